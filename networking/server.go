package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/validator"
)

// Server exposes a coordinator (and optionally a validator) over libp2p
// streams.
type Server struct {
	host   host.Host
	api    coordinator.API
	val    *validator.Validator // nil when this host runs no validator
	logger *slog.Logger
}

// NewServer creates a server; Register must be called to install the
// stream handlers.
func NewServer(h host.Host, api coordinator.API, val *validator.Validator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{host: h, api: api, val: val, logger: logger}
}

// handlerFunc decodes a request payload and produces a response value.
type handlerFunc func(ctx context.Context, payload []byte) (any, error)

// Register installs one stream handler per protocol.
func (s *Server) Register() {
	handlers := map[string]handlerFunc{
		ProtoAddTransaction: func(ctx context.Context, payload []byte) (any, error) {
			var req addTransactionReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return struct{}{}, s.api.AddTransaction(ctx, req.Tx)
		},
		ProtoAcquireLock: func(ctx context.Context, _ []byte) (any, error) {
			txs, err := s.api.AcquireProcessingLock(ctx)
			return &acquireLockResp{Transactions: txs}, err
		},
		ProtoReleaseLock: func(ctx context.Context, payload []byte) (any, error) {
			var req releaseLockReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return struct{}{}, s.api.ReleaseProcessingLock(ctx, req.ClearQueue)
		},
		ProtoPackBlock: func(ctx context.Context, payload []byte) (any, error) {
			var req packBlockReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			block, err := s.api.PackBlock(ctx, req.ProposerID)
			return &blockResp{Block: block}, err
		},
		ProtoCommitBlock: func(ctx context.Context, payload []byte) (any, error) {
			var req commitBlockReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return struct{}{}, s.api.CommitBlock(ctx, req.Block, req.Votes)
		},
		ProtoInitGenesis: func(ctx context.Context, payload []byte) (any, error) {
			var req initGenesisReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return struct{}{}, s.api.InitGenesis(ctx, req.GenesisTime, req.Force)
		},
		ProtoReportError: func(ctx context.Context, payload []byte) (any, error) {
			var req reportErrorReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return struct{}{}, s.api.ReportError(ctx, req.Message)
		},
		ProtoQueryState: func(ctx context.Context, _ []byte) (any, error) {
			world, err := s.api.QueryState(ctx)
			return &stateResp{World: world}, err
		},
		ProtoQueryConfig: func(ctx context.Context, _ []byte) (any, error) {
			cfg, err := s.api.QueryConfig(ctx)
			return &configResp{Config: cfg}, err
		},
		ProtoQueryPending: func(ctx context.Context, _ []byte) (any, error) {
			txs, err := s.api.QueryPending(ctx)
			return &acquireLockResp{Transactions: txs}, err
		},
		ProtoQueryAccount: func(ctx context.Context, payload []byte) (any, error) {
			var req accountReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			acct, err := s.api.QueryAccount(ctx, req.Address)
			return &accountResp{Account: acct}, err
		},
		ProtoQueryBlock: func(ctx context.Context, payload []byte) (any, error) {
			var req blockReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			block, err := s.api.QueryBlock(ctx, req.Height)
			return &blockResp{Block: block}, err
		},
		ProtoQueryLatestBlock: func(ctx context.Context, _ []byte) (any, error) {
			block, err := s.api.QueryLatestBlock(ctx)
			return &blockResp{Block: block}, err
		},
		ProtoQueryBlocksRange: func(ctx context.Context, payload []byte) (any, error) {
			var req blocksRangeReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			blocks, err := s.api.QueryBlocksRange(ctx, req.Start, req.Limit)
			return &blocksResp{Blocks: blocks}, err
		},
		ProtoQueryTransaction: func(ctx context.Context, payload []byte) (any, error) {
			var req txReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			record, err := s.api.QueryTransaction(ctx, req.Hash)
			return &txResp{Record: record}, err
		},
		ProtoTxsByAddress: func(ctx context.Context, payload []byte) (any, error) {
			var req accountReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			txs, err := s.api.TransactionsByAddress(ctx, req.Address)
			return &txsByAddressResp{Txs: txs}, err
		},
	}
	if s.val != nil {
		handlers[ProtoValidate] = func(ctx context.Context, payload []byte) (any, error) {
			var req validateReq
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, errBadPayload(err)
			}
			return s.val.Validate(ctx, req.Block, req.ProposerID)
		}
	}

	for proto, handler := range handlers {
		s.host.SetStreamHandler(protocol.ID(proto), s.streamHandler(proto, handler))
	}
}

type badPayloadError struct{ err error }

func (e *badPayloadError) Error() string { return fmt.Sprintf("bad payload: %v", e.err) }

func errBadPayload(err error) error { return &badPayloadError{err: err} }

func (s *Server) streamHandler(proto string, handler handlerFunc) network.StreamHandler {
	return func(stream network.Stream) {
		defer stream.Close()

		_ = stream.SetReadDeadline(time.Now().Add(readTimeout))
		payload, err := readMessage(stream)
		if err != nil {
			s.logger.Debug("read request failed", "protocol", proto, "error", err)
			_ = stream.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = writeResponse(stream, respCodeInvalidReq, &wireError{Kind: "internal", Message: "unreadable request"})
			return
		}

		ctx := context.Background()
		resp, err := handler(ctx, payload)

		_ = stream.SetWriteDeadline(time.Now().Add(writeTimeout))
		switch {
		case err == nil:
			if werr := writeResponse(stream, respCodeSuccess, resp); werr != nil {
				s.logger.Debug("write response failed", "protocol", proto, "error", werr)
			}
		default:
			var bad *badPayloadError
			code := respCodeAppError
			if errors.As(err, &bad) {
				code = respCodeInvalidReq
			}
			if werr := writeResponse(stream, code, encodeError(err)); werr != nil {
				s.logger.Debug("write error response failed", "protocol", proto, "error", werr)
			}
		}
	}
}
