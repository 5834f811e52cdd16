// Package proposer drives one consensus round per trigger: acquire the
// coordinator's round lock, pack a candidate block, fan the block out to
// every validator in parallel, gather a quorum of signatures and submit the
// block for atomic commit.
package proposer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/metrics"
	"github.com/quorlabs/quor/types"
	"github.com/quorlabs/quor/validator"
)

// ValidatorClient is one reachable validator. The in-process validator and
// the networking stream client both satisfy it.
type ValidatorClient interface {
	ID() string
	Validate(ctx context.Context, block *types.Block, proposerID string) (*validator.Result, error)
}

// Summary is the compact result of a committed round.
type Summary struct {
	Height  uint64        `json:"height"`
	Hash    types.Hash    `json:"hash"`
	TxCount uint64        `json:"txCount"`
	Votes   int           `json:"votes"`
	Elapsed time.Duration `json:"elapsed"`
}

// Options configures a Proposer.
type Options struct {
	ID         string
	PrivateKey ed25519.PrivateKey
	API        coordinator.API
	Validators []ValidatorClient
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	TimeFunc   func() time.Time
}

// Proposer is stateless between rounds; concurrent triggers serialize on
// the coordinator's processing lock.
type Proposer struct {
	id         string
	priv       ed25519.PrivateKey
	api        coordinator.API
	validators []ValidatorClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timeFunc   func() time.Time
}

// New creates a proposer.
func New(opts Options) *Proposer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeFunc := opts.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}
	return &Proposer{
		id:         opts.ID,
		priv:       opts.PrivateKey,
		api:        opts.API,
		validators: opts.Validators,
		logger:     logger.With("proposer", opts.ID),
		metrics:    opts.Metrics,
		timeFunc:   timeFunc,
	}
}

// ID returns the proposer's identifier.
func (p *Proposer) ID() string { return p.id }

// Trigger runs one round. A round already in progress or an empty queue is
// a no-op, not an error, so callers can fire-and-forget on every
// admission.
func (p *Proposer) Trigger(ctx context.Context) (*Summary, error) {
	if _, err := p.api.AcquireProcessingLock(ctx); err != nil {
		if errors.Is(err, coordinator.ErrRoundInProgress) || errors.Is(err, coordinator.ErrEmptyQueue) {
			p.logger.Debug("trigger was a no-op", "reason", err)
			return nil, nil
		}
		return nil, err
	}

	summary, err := func() (s *Summary, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("round panicked: %v", r)
			}
		}()
		return p.runRound(ctx)
	}()
	if err != nil {
		// Whatever went wrong, the round lock must not outlive the round.
		if relErr := p.api.ReleaseProcessingLock(ctx, false); relErr != nil {
			p.logger.Error("releasing round lock failed", "error", relErr)
		}
		if repErr := p.api.ReportError(ctx, err.Error()); repErr != nil {
			p.logger.Error("reporting round error failed", "error", repErr)
		}
		return nil, err
	}
	return summary, nil
}

func (p *Proposer) runRound(ctx context.Context) (*Summary, error) {
	started := p.timeFunc()

	block, err := p.api.PackBlock(ctx, p.id)
	if err != nil {
		return nil, fmt.Errorf("pack block: %w", err)
	}
	block.ProposerSignature = ed25519.Sign(p.priv, types.BlockSignBytes(block.Hash))

	cfg, err := p.api.QueryConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}

	votes, failures := p.collectVotes(ctx, block, cfg.ConsensusTimeout)
	if len(votes) < cfg.RequiredSignatures {
		p.metrics.RoundFinished(p.timeFunc().Sub(started), false)
		return nil, fmt.Errorf("%w: %d of %d (%s)",
			coordinator.ErrInsufficientSignatures, len(votes), cfg.RequiredSignatures,
			strings.Join(failures, "; "))
	}
	block.Votes = votes

	if err := p.api.CommitBlock(ctx, block, votes); err != nil {
		p.metrics.RoundFinished(p.timeFunc().Sub(started), false)
		return nil, fmt.Errorf("commit block: %w", err)
	}

	elapsed := p.timeFunc().Sub(started)
	p.metrics.RoundFinished(elapsed, true)
	summary := &Summary{
		Height:  block.Header.Height,
		Hash:    block.Hash,
		TxCount: block.Header.TxCount,
		Votes:   len(votes),
		Elapsed: elapsed,
	}
	p.logger.Info("round committed",
		"height", summary.Height, "hash", summary.Hash,
		"txs", summary.TxCount, "votes", summary.Votes, "elapsed", elapsed)
	return summary, nil
}

// collectVotes fans the candidate block out to every validator in parallel
// under a single deadline covering the whole fan-out. Responses that
// arrive after the deadline are discarded; it returns once every call has
// returned. Per-validator failures come back as detail strings for the
// InsufficientSignatures error.
func (p *Proposer) collectVotes(ctx context.Context, block *types.Block, timeout time.Duration) ([]types.Vote, []string) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		votes    []types.Vote
		failures []string
	)
	var g errgroup.Group
	for _, vc := range p.validators {
		g.Go(func() error {
			res, err := vc.Validate(ctx, block, p.id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, fmt.Sprintf("%s: %v", vc.ID(), err))
			case ctx.Err() != nil:
				failures = append(failures, fmt.Sprintf("%s: response after deadline", vc.ID()))
			case !res.Valid:
				failures = append(failures, fmt.Sprintf("%s: %s", vc.ID(), res.Error))
			case res.Vote == nil:
				failures = append(failures, fmt.Sprintf("%s: empty vote", vc.ID()))
			default:
				votes = append(votes, *res.Vote)
			}
			return nil
		})
	}
	_ = g.Wait()
	return votes, failures
}
