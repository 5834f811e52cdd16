package networking

import (
	"errors"
	"fmt"

	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/types"
	"github.com/quorlabs/quor/validator"
)

// Protocol IDs, one per internal operation.
const (
	ProtoAddTransaction   = "/quor/req/add_transaction/1"
	ProtoAcquireLock      = "/quor/req/acquire_lock/1"
	ProtoReleaseLock      = "/quor/req/release_lock/1"
	ProtoPackBlock        = "/quor/req/pack_block/1"
	ProtoCommitBlock      = "/quor/req/commit_block/1"
	ProtoInitGenesis      = "/quor/req/init_genesis/1"
	ProtoReportError      = "/quor/req/report_error/1"
	ProtoQueryState       = "/quor/req/query_state/1"
	ProtoQueryConfig      = "/quor/req/query_config/1"
	ProtoQueryAccount     = "/quor/req/query_account/1"
	ProtoQueryBlock       = "/quor/req/query_block/1"
	ProtoQueryLatestBlock = "/quor/req/query_latest_block/1"
	ProtoQueryBlocksRange = "/quor/req/query_blocks_range/1"
	ProtoQueryTransaction = "/quor/req/query_transaction/1"
	ProtoTxsByAddress     = "/quor/req/txs_by_address/1"
	ProtoQueryPending     = "/quor/req/query_pending/1"
	ProtoValidate         = "/quor/req/validate/1"
)

// Request/response payloads. Everything crosses the wire as framed JSON.

type addTransactionReq struct {
	Tx *types.Transaction `json:"tx"`
}

type acquireLockResp struct {
	Transactions []types.Transaction `json:"transactions"`
}

type releaseLockReq struct {
	ClearQueue bool `json:"clearQueue"`
}

type packBlockReq struct {
	ProposerID string `json:"proposerId"`
}

type blockResp struct {
	Block *types.Block `json:"block"`
}

type commitBlockReq struct {
	Block *types.Block `json:"block"`
	Votes []types.Vote `json:"votes"`
}

type initGenesisReq struct {
	GenesisTime uint64 `json:"genesisTime"`
	Force       bool   `json:"force"`
}

type reportErrorReq struct {
	Message string `json:"message"`
}

type stateResp struct {
	World *types.WorldState `json:"world"`
}

type configResp struct {
	Config types.ConsensusConfig `json:"config"`
}

type accountReq struct {
	Address types.Address `json:"address"`
}

type accountResp struct {
	Account *coordinator.Account `json:"account"`
}

type blockReq struct {
	Height uint64 `json:"height"`
}

type blocksRangeReq struct {
	Start uint64 `json:"start"`
	Limit int    `json:"limit"`
}

type blocksResp struct {
	Blocks []*types.Block `json:"blocks"`
}

type txReq struct {
	Hash types.Hash `json:"hash"`
}

type txResp struct {
	Record *coordinator.TransactionRecord `json:"record"`
}

type txsByAddressResp struct {
	Txs *coordinator.AddressTransactions `json:"txs"`
}

type validateReq struct {
	Block      *types.Block `json:"block"`
	ProposerID string       `json:"proposerId"`
}

// wireError carries a protocol failure across the stream so the caller can
// recover the sentinel it matches.
type wireError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Expected uint64 `json:"expected,omitempty"`
	Got      uint64 `json:"got,omitempty"`
}

var kindToErr = map[string]error{
	"duplicate_transaction":   coordinator.ErrDuplicateTransaction,
	"insufficient_balance":    coordinator.ErrInsufficientBalance,
	"round_in_progress":       coordinator.ErrRoundInProgress,
	"empty_queue":             coordinator.ErrEmptyQueue,
	"wrong_height":            coordinator.ErrWrongHeight,
	"wrong_parent":            coordinator.ErrWrongParent,
	"insufficient_signatures": coordinator.ErrInsufficientSignatures,
	"already_initialized":     coordinator.ErrAlreadyInitialized,
	"not_initialized":         coordinator.ErrNotInitialized,
	"not_found":               coordinator.ErrNotFound,
	"invalid_signature":       types.ErrInvalidSignature,
	"address_mismatch":        types.ErrAddressMismatch,
	"bad_tx_hash":             types.ErrBadTxHash,
	"bad_state_root":          validator.ErrBadStateRoot,
}

// encodeError maps an error onto its wire form.
func encodeError(err error) *wireError {
	var mismatch *coordinator.SequenceMismatchError
	if errors.As(err, &mismatch) {
		return &wireError{
			Kind:     "sequence_mismatch",
			Message:  err.Error(),
			Expected: mismatch.Expected,
			Got:      mismatch.Got,
		}
	}
	for kind, sentinel := range kindToErr {
		if errors.Is(err, sentinel) {
			return &wireError{Kind: kind, Message: err.Error()}
		}
	}
	return &wireError{Kind: "internal", Message: err.Error()}
}

// decodeError reconstructs an error the caller can match with errors.Is /
// errors.As.
func decodeError(we *wireError) error {
	if we.Kind == "sequence_mismatch" {
		return &coordinator.SequenceMismatchError{Expected: we.Expected, Got: we.Got}
	}
	if sentinel, ok := kindToErr[we.Kind]; ok {
		return fmt.Errorf("%w: %s", sentinel, we.Message)
	}
	return errors.New(we.Message)
}
