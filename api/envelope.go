package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/quorlabs/quor/backup"
	"github.com/quorlabs/quor/coordinator"
	"github.com/quorlabs/quor/types"
)

// envelope is the uniform response wrapper.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func respond(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Data:      data,
		RequestID: uuid.NewString(),
	})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{
		Success:   false,
		Error:     msg,
		RequestID: uuid.NewString(),
	})
}

// respondMapped translates protocol errors onto client-facing status codes
// without leaking internals.
func respondMapped(w http.ResponseWriter, err error) {
	var malformed *malformedError
	if errors.As(err, &malformed) {
		respondError(w, http.StatusBadRequest, malformed.msg)
		return
	}
	switch {
	case errors.Is(err, types.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, types.ErrAddressMismatch):
		respondError(w, http.StatusBadRequest, "from address does not match public key")
	case errors.Is(err, types.ErrBadTxHash):
		respondError(w, http.StatusBadRequest, "transaction hash mismatch")
	case errors.Is(err, coordinator.ErrSequenceMismatch):
		var mismatch *coordinator.SequenceMismatchError
		if errors.As(err, &mismatch) {
			respondError(w, http.StatusBadRequest, mismatch.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "sequence mismatch")
	case errors.Is(err, coordinator.ErrDuplicateTransaction):
		respondError(w, http.StatusBadRequest, "duplicate transaction")
	case errors.Is(err, coordinator.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, coordinator.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, coordinator.ErrAlreadyInitialized):
		respondError(w, http.StatusConflict, "chain already initialized")
	case errors.Is(err, coordinator.ErrNotInitialized):
		respondError(w, http.StatusConflict, "chain not initialized")
	case errors.Is(err, coordinator.ErrRoundInProgress):
		respondError(w, http.StatusConflict, "round in progress")
	case errors.Is(err, backup.ErrCidMismatch), errors.Is(err, backup.ErrNoBackups):
		respondError(w, http.StatusForbidden, "cid does not match the latest backup")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
