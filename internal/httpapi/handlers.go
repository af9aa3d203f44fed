package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/directory"
)

const maxBodyBytes = 4 << 10

type createRequest struct {
	PeerID string `json:"peer_id"`
}

type lookupResponse struct {
	PeerID string `json:"peer_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// CreatePartyCode registers the caller's peer id under a fresh code.
func CreatePartyCode(dir directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "peer_id is required")
			return
		}

		reg, err := dir.Create(r.Context(), req.PeerID)
		switch {
		case errors.Is(err, directory.ErrMissingPeer):
			writeError(w, http.StatusBadRequest, "peer_id is required")
			return
		case err != nil:
			log.Error("create party code failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create party code")
			return
		}
		writeJSON(w, http.StatusCreated, reg)
	}
}

func LookupPartyCode(dir directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, err := dir.Lookup(r.Context(), chi.URLParam(r, "code"))
		switch {
		case errors.Is(err, directory.ErrNotFound):
			writeError(w, http.StatusNotFound, "Party code not found")
			return
		case err != nil:
			log.Error("lookup party code failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to look up party code")
			return
		}
		writeJSON(w, http.StatusOK, lookupResponse{PeerID: peer})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
