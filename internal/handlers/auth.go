package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/types"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	// CrossSite sends SameSite=None so a frontend on another origin can use
	// the cookie; otherwise SameSite=Strict.
	CrossSite bool
	MaxAge    time.Duration
}

// AuthHandler provides session and credential endpoints.
type AuthHandler struct {
	accounts            *services.AccountService
	cookie              CookieConfig
	collapseLoginErrors bool
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts *services.AccountService, cookie CookieConfig, collapseLoginErrors bool) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "token"
	}
	return &AuthHandler{
		accounts:            accounts,
		cookie:              cookie,
		collapseLoginErrors: collapseLoginErrors,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.With(handler.OptionalAuth).Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/check-auth", handler.CheckAuth)
	r.With(handler.RequireAuth).Post("/send-verify-otp", handler.SendVerifyOTP)
	r.With(handler.RequireAuth).Post("/verify-account", handler.VerifyAccount)
	r.Post("/send-reset-otp", handler.SendResetOTP)
	r.Post("/reset-password", handler.ResetPassword)
}

// RequireAuth enforces a valid session token and injects it into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.accounts.Authenticate(h.sessionToken(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// OptionalAuth injects the session when a valid token is present and passes
// anonymous requests through unchanged.
func (h *AuthHandler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := h.sessionToken(r); token != "" {
			if session, err := h.accounts.Authenticate(token); err == nil {
				r = r.WithContext(withSession(r.Context(), session))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Register creates a new account and opens a session for it.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var caller *auth.Session
	if session, ok := sessionFromContext(r.Context()); ok {
		caller = &session
	}

	result, err := h.accounts.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, AuthResponse{Token: result.Token, Account: result.Account})
}

// Login verifies credentials and opens a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.collapseLoginErrors && errors.Is(err, services.ErrNotFound) {
			err = fmt.Errorf("%w: invalid credentials", services.ErrUnauthorized)
		}
		writeServiceError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, AuthResponse{Token: result.Token, Account: result.Account})
}

// Logout clears the session cookie. It succeeds with or without a session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.accounts.Logout(r.Context(), h.sessionToken(r))
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// CheckAuth returns the account behind the current session.
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, AccountResponse{Account: account})
}

// SendVerifyOTP mails a verification code to the session's account.
func (h *AuthHandler) SendVerifyOTP(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.accounts.RequestEmailVerification(r.Context(), session.AccountID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "verification code sent"})
}

// VerifyAccount confirms the session account's email with a code.
func (h *AuthHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.accounts.ConfirmEmailVerification(r.Context(), session.AccountID, req.OTP); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "email verified"})
}

// SendResetOTP mails a password reset code.
func (h *AuthHandler) SendResetOTP(w http.ResponseWriter, r *http.Request) {
	var req ResetOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "reset code sent"})
}

// ResetPassword sets a new password with a reset code.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.accounts.ConfirmPasswordReset(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password has been reset"})
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyAccountRequest struct {
	OTP string `json:"otp"`
}

type ResetOTPRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type AuthResponse struct {
	Token   string            `json:"token"`
	Account types.AccountView `json:"account"`
}

type AccountResponse struct {
	Account types.AccountView `json:"account"`
}

// sessionToken reads the token from the session cookie, falling back to a
// bearer Authorization header.
func (h *AuthHandler) sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	token, err := bearerToken(r)
	if err != nil {
		return ""
	}
	return token
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.sameSite(),
		MaxAge:   int(h.cookie.MaxAge / time.Second),
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.sameSite(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (h *AuthHandler) sameSite() http.SameSite {
	if h.cookie.CrossSite {
		return http.SameSiteNoneMode
	}
	return http.SameSiteStrictMode
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
