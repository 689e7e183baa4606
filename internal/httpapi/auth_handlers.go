package httpapi

import (
	"context"
	"net/http"
	"time"

	"civicai.org/internal/audit"
	"civicai.org/internal/auth"
	"civicai.org/internal/obs"
)

type registerRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	Username          string `json:"username"`
	FullName          string `json:"full_name"`
	PreferredLanguage string `json:"preferred_language"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type firebaseLoginRequest struct {
	IDToken  string `json:"id_token"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
	IsNewUser   bool         `json:"is_new_user,omitempty"`
}

func newAuthResponse(res auth.AuthResult) authResponse {
	return authResponse{
		AccessToken: res.Token.Value,
		TokenType:   "bearer",
		ExpiresAt:   res.Token.ExpiresAt,
		User:        newUserResponse(res.User),
		IsNewUser:   res.Created,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:             req.Email,
		Password:          req.Password,
		Username:          req.Username,
		FullName:          req.FullName,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRegistered, map[string]any{
		"target_user_id": res.User.ID,
		"username":       res.User.Username,
	})
	writeJSON(w, http.StatusCreated, newAuthResponse(res))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	a.passwordLogin(w, r, audit.EventLogin, a.auth.Login)
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	a.passwordLogin(w, r, audit.EventAdminLogin, a.auth.AdminLogin)
}

func (a *API) passwordLogin(w http.ResponseWriter, r *http.Request, event string,
	login func(ctx context.Context, email, password string) (auth.AuthResult, error)) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.audit(r.Context(), event, map[string]any{"outcome": "failure"})
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), event, map[string]any{
		"outcome":        "success",
		"target_user_id": res.User.ID,
	})
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

func (a *API) handleFirebaseLogin(w http.ResponseWriter, r *http.Request) {
	var req firebaseLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IDToken == "" {
		writeError(w, r, http.StatusBadRequest, "id_token is required")
		return
	}
	res, err := a.auth.FederatedLogin(r.Context(), req.IDToken, auth.FederatedProfile{
		Username: req.Username,
		FullName: req.FullName,
	})
	if err != nil {
		a.audit(r.Context(), audit.EventFederatedLogin, map[string]any{"outcome": "failure"})
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventFederatedLogin, map[string]any{
		"outcome":        "success",
		"target_user_id": res.User.ID,
		"created":        res.Created,
	})
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Error("audit_failed", err, map[string]any{"event": event})
	}
}
