package networking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/types"
	"github.com/quorlabs/quor/validator"
)

// Client implements coordinator.API over libp2p streams to a remote
// coordinator.
type Client struct {
	host host.Host
	peer peer.ID
}

var _ coordinator.API = (*Client)(nil)

// NewClient creates a client for the coordinator at the given p2p
// multiaddr and pins its addresses in the peerstore.
func NewClient(h host.Host, coordinatorAddr string) (*Client, error) {
	info, err := ParsePeer(coordinatorAddr)
	if err != nil {
		return nil, err
	}
	h.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return &Client{host: h, peer: info.ID}, nil
}

// call opens a stream for one operation, writes the framed request and
// decodes the framed response into out.
func (c *Client) call(ctx context.Context, proto string, req, out any) error {
	return callPeer(ctx, c.host, c.peer, proto, req, out)
}

func callPeer(ctx context.Context, h host.Host, p peer.ID, proto string, req, out any) error {
	stream, err := h.NewStream(ctx, p, protocol.ID(proto))
	if err != nil {
		return fmt.Errorf("open stream %s: %w", proto, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	} else {
		_ = stream.SetDeadline(time.Now().Add(readTimeout))
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := writeMessage(stream, data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("close write: %w", err)
	}

	code, payload, err := readResponse(stream)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if code != respCodeSuccess {
		var we wireError
		if err := json.Unmarshal(payload, &we); err != nil {
			return fmt.Errorf("peer returned code %d", code)
		}
		return decodeError(&we)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) AddTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, ProtoAddTransaction, &addTransactionReq{Tx: tx}, nil)
}

func (c *Client) AcquireProcessingLock(ctx context.Context) ([]types.Transaction, error) {
	var resp acquireLockResp
	if err := c.call(ctx, ProtoAcquireLock, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) ReleaseProcessingLock(ctx context.Context, clearQueue bool) error {
	return c.call(ctx, ProtoReleaseLock, &releaseLockReq{ClearQueue: clearQueue}, nil)
}

func (c *Client) PackBlock(ctx context.Context, proposerID string) (*types.Block, error) {
	var resp blockResp
	if err := c.call(ctx, ProtoPackBlock, &packBlockReq{ProposerID: proposerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Block, nil
}

func (c *Client) CommitBlock(ctx context.Context, block *types.Block, votes []types.Vote) error {
	return c.call(ctx, ProtoCommitBlock, &commitBlockReq{Block: block, Votes: votes}, nil)
}

func (c *Client) InitGenesis(ctx context.Context, genesisTime uint64, force bool) error {
	return c.call(ctx, ProtoInitGenesis, &initGenesisReq{GenesisTime: genesisTime, Force: force}, nil)
}

func (c *Client) ReportError(ctx context.Context, msg string) error {
	return c.call(ctx, ProtoReportError, &reportErrorReq{Message: msg}, nil)
}

func (c *Client) QueryState(ctx context.Context) (*types.WorldState, error) {
	var resp stateResp
	if err := c.call(ctx, ProtoQueryState, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.World, nil
}

func (c *Client) QueryConfig(ctx context.Context) (types.ConsensusConfig, error) {
	var resp configResp
	if err := c.call(ctx, ProtoQueryConfig, struct{}{}, &resp); err != nil {
		return types.ConsensusConfig{}, err
	}
	return resp.Config, nil
}

func (c *Client) QueryPending(ctx context.Context) ([]types.Transaction, error) {
	var resp acquireLockResp
	if err := c.call(ctx, ProtoQueryPending, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) QueryAccount(ctx context.Context, addr types.Address) (*coordinator.Account, error) {
	var resp accountResp
	if err := c.call(ctx, ProtoQueryAccount, &accountReq{Address: addr}, &resp); err != nil {
		return nil, err
	}
	return resp.Account, nil
}

func (c *Client) QueryBlock(ctx context.Context, height uint64) (*types.Block, error) {
	var resp blockResp
	if err := c.call(ctx, ProtoQueryBlock, &blockReq{Height: height}, &resp); err != nil {
		return nil, err
	}
	return resp.Block, nil
}

func (c *Client) QueryLatestBlock(ctx context.Context) (*types.Block, error) {
	var resp blockResp
	if err := c.call(ctx, ProtoQueryLatestBlock, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Block, nil
}

func (c *Client) QueryBlocksRange(ctx context.Context, start uint64, limit int) ([]*types.Block, error) {
	var resp blocksResp
	if err := c.call(ctx, ProtoQueryBlocksRange, &blocksRangeReq{Start: start, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

func (c *Client) QueryTransaction(ctx context.Context, hash types.Hash) (*coordinator.TransactionRecord, error) {
	var resp txResp
	if err := c.call(ctx, ProtoQueryTransaction, &txReq{Hash: hash}, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *Client) TransactionsByAddress(ctx context.Context, addr types.Address) (*coordinator.AddressTransactions, error) {
	var resp txsByAddressResp
	if err := c.call(ctx, ProtoTxsByAddress, &accountReq{Address: addr}, &resp); err != nil {
		return nil, err
	}
	return resp.Txs, nil
}

// ValidatorClient reaches a remote validator's validate endpoint.
type ValidatorClient struct {
	host host.Host
	peer peer.ID
	id   string
}

// NewValidatorClient creates a client for the validator at the given p2p
// multiaddr.
func NewValidatorClient(h host.Host, id, validatorAddr string) (*ValidatorClient, error) {
	info, err := ParsePeer(validatorAddr)
	if err != nil {
		return nil, err
	}
	h.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return &ValidatorClient{host: h, peer: info.ID, id: id}, nil
}

func (v *ValidatorClient) ID() string { return v.id }

func (v *ValidatorClient) Validate(ctx context.Context, block *types.Block, proposerID string) (*validator.Result, error) {
	var res validator.Result
	err := callPeer(ctx, v.host, v.peer, ProtoValidate, &validateReq{Block: block, ProposerID: proposerID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
