package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flowhook/flowhook-api/internal/authz"
	"github.com/flowhook/flowhook-api/internal/credentials"
	"github.com/flowhook/flowhook-api/internal/engine"
)

type CredentialHandler struct {
	manager *credentials.Manager
	logger  zerolog.Logger
}

func NewCredentialHandler(manager *credentials.Manager, logger zerolog.Logger) *CredentialHandler {
	return &CredentialHandler{manager: manager, logger: logger}
}

type connectRequest struct {
	Code string `json:"code"`
}

// Connect completes an OAuth flow: the frontend posts the authorization code
// it received on the provider's redirect and the tokens are stored for the
// caller. Raw tokens never leave the server.
func (h *CredentialHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	provider := mux.Vars(r)["provider"]

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "authorization code required", http.StatusBadRequest)
		return
	}

	cred, err := h.manager.Connect(r.Context(), userID, provider, req.Code)
	if err != nil {
		switch engine.KindOf(err) {
		case engine.KindNotFound:
			http.Error(w, "unknown provider: "+provider, http.StatusNotFound)
		case engine.KindCredentialExpired:
			http.Error(w, "provider rejected authorization code", http.StatusBadRequest)
		default:
			h.logger.Error().Err(err).Str("provider", provider).Msg("oauth exchange failed")
			http.Error(w, "failed to connect provider", http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"credential_id": cred.ID,
		"provider":      cred.Provider,
		"expires_at":    cred.ExpiresAt,
	})
}
