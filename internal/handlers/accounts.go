package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/types"
)

const maxAvatarUploadBytes = 2 << 20

// AccountHandler provides administrative account endpoints and avatars.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// AccountRouter registers account routes. authMiddleware must inject the
// session into the request context. Avatars are readable by any signed-in
// account; everything else under /{accountID} is admin only.
func AccountRouter(r chi.Router, handler *AccountHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware, handler.requireAdmin).Get("/", handler.ListAccounts)
	r.With(authMiddleware).Put("/me/avatar", handler.PutAvatar)
	r.Route("/{accountID}", func(r chi.Router) {
		r.With(authMiddleware, handler.requireAdmin).Get("/", handler.GetAccount)
		r.With(authMiddleware, handler.requireAdmin).Delete("/", handler.DeleteAccount)
		r.With(authMiddleware).Get("/avatar", handler.GetAvatar)
	})
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountListResponse{Items: accounts, Total: len(accounts)})
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account})
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutAvatar replaces the session account's picture with the raw request body.
func (h *AccountHandler) PutAvatar(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.ContentLength > maxAvatarUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "avatar too large")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxAvatarUploadBytes)
	account, err := h.accounts.SetAvatar(r.Context(), session.AccountID, body, r.ContentLength, r.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account})
}

func (h *AccountHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	reader, info, err := h.accounts.GetAvatar(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer reader.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// requireAdmin loads the session account so a demoted admin holding an old
// token is refused.
func (h *AccountHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		account, err := h.accounts.CheckAuth(r.Context(), session)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if !strings.EqualFold(account.Role, types.RoleAdmin) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountListResponse is the account list payload.
type AccountListResponse struct {
	Items []types.AccountView `json:"items"`
	Total int                 `json:"total"`
}
