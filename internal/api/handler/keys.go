package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/kiranshivaraju/scribe/internal/store"
)

var knownScopes = map[string]bool{
	mw.ScopeTranscribe: true,
	mw.ScopeRead:       true,
	mw.ScopeAdmin:      true,
}

type createKeyRequest struct {
	Owner  string   `json:"owner"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only.
func NewCreateKeyHandler(keys store.KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Owner = strings.TrimSpace(req.Owner)
		req.Name = strings.TrimSpace(req.Name)
		if req.Owner == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner is required", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		for _, s := range req.Scopes {
			if !knownScopes[s] {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown scope: "+s, nil)
				return
			}
		}

		raw, err := mw.GenerateRawKey()
		if err != nil {
			slog.Error("generate api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		key, err := mw.NewAPIKey(raw, req.Owner, req.Name, req.Scopes)
		if err != nil {
			slog.Error("hash api key", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "A key with this name already exists for the owner", nil)
				return
			}
			slog.Error("create api key", "owner", req.Owner, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.Created(w, createKeyResponse{
			ID:        key.ID,
			Owner:     key.Owner,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}
