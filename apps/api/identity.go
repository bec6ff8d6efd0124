package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/auth"
	"github.com/mahaj/livechat/pkg/metrics"
	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/session"
)

type Accounts interface {
	SignIn(ctx context.Context, uid, password, avatar string) (model.Principal, error)
}

type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

var validate = validator.New()

// LoginRequest limits the password to 72 bytes, the most bcrypt hashes.
type LoginRequest struct {
	UserID    string `json:"user_id" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,max=72"`
	AvatarURI string `json:"avatar_uri" validate:"omitempty,max=2048"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	Principal model.Principal `json:"principal"`
}

type IdentityHandler struct {
	accounts Accounts
	revoker  Revoker
	issuer   *auth.Issuer
	logger   *zap.Logger
}

func NewIdentityHandler(accounts Accounts, revoker Revoker, issuer *auth.Issuer, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{accounts: accounts, revoker: revoker, issuer: issuer, logger: logger}
}

func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(req); err != nil {
		http.Error(w, "Invalid credentials format: "+err.Error(), http.StatusBadRequest)
		return
	}

	principal, err := h.accounts.SignIn(r.Context(), req.UserID, req.Password, req.AvatarURI)
	if err != nil {
		if errors.Is(err, session.ErrBadCredentials) {
			metrics.LoginsTotal.WithLabelValues("denied").Inc()
			http.Error(w, "Bad credentials", http.StatusUnauthorized)
			return
		}
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.logger.Error("sign-in failed", zap.String("id", RequestIDFromContext(r.Context())), zap.Error(err))
		http.Error(w, "Failed to sign in", http.StatusInternalServerError)
		return
	}

	token, _, err := h.issuer.GenerateToken(principal)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.logger.Error("failed to generate token", zap.Error(err))
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("user signed in", zap.String("uid", principal.UID))
	writeJSON(w, LoginResponse{Token: token, Principal: principal})
}

func (h *IdentityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := h.revoker.Revoke(r.Context(), claims.ID, expiresAt); err != nil {
		h.logger.Error("failed to revoke token", zap.String("uid", claims.UserID), zap.Error(err))
		http.Error(w, "Failed to sign out", http.StatusInternalServerError)
		return
	}

	h.logger.Info("user signed out", zap.String("uid", claims.UserID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, claims.Principal())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
