package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"civicai.org/internal/audit"
	"civicai.org/internal/auth"
	"civicai.org/internal/ids"
)

type roleUpdateRequest struct {
	Role          string `json:"role"`
	AuthorityType string `json:"authority_type"`
	Department    string `json:"department"`
	Jurisdiction  string `json:"jurisdiction"`
}

func (a *API) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, err := parsePaging(q.Get("page"), q.Get("page_size"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := auth.UserFilter{Page: page, PageSize: pageSize}
	if raw := q.Get("role"); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			handleError(w, r, err)
			return
		}
		filter.Role = &role
	}
	if raw := q.Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "is_active must be a boolean")
			return
		}
		filter.Active = &active
	}
	res, err := a.accounts.ListUsers(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserListResponse(res))
}

func (a *API) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	u, err := a.accounts.GetUser(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (a *API) handleAdminUpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req roleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.accounts.UpdateRole(r.Context(), userID, auth.RoleChange{
		Role:          req.Role,
		AuthorityType: req.AuthorityType,
		Department:    req.Department,
		Jurisdiction:  req.Jurisdiction,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventRoleChanged, map[string]any{
		"target_user_id": u.ID,
		"role":           string(u.Role),
		"authority_type": string(u.AuthorityType),
	})
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (a *API) handleAdminToggleActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	u, err := a.accounts.ToggleActive(r.Context(), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventActiveToggled, map[string]any{
		"target_user_id": u.ID,
		"is_active":      u.IsActive,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        u.ID,
		"is_active": u.IsActive,
	})
}

func (a *API) handleAdminPendingAuthorities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, err := parsePaging(q.Get("page"), q.Get("page_size"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.accounts.PendingAuthorities(r.Context(), page, pageSize)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserListResponse(res))
}

func (a *API) handleAdminVerifyAuthority(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	verified := true
	if raw := r.URL.Query().Get("verified"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "verified must be a boolean")
			return
		}
		verified = v
	}
	u, err := a.accounts.VerifyAuthority(r.Context(), userID, verified)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventAuthorityVerified, map[string]any{
		"target_user_id": u.ID,
		"verified":       u.AuthorityVerified,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 u.ID,
		"authority_verified": u.AuthorityVerified,
	})
}

func pathUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return id, true
}

func parsePaging(rawPage, rawSize string) (int, int, error) {
	page, err := parsePositiveInt(rawPage, 1, 1, 1_000_000)
	if err != nil {
		return 0, 0, errors.New("page must be a positive integer")
	}
	size, err := parsePositiveInt(rawSize, 20, 1, 100)
	if err != nil {
		return 0, 0, errors.New("page_size must be between 1 and 100")
	}
	return page, size, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if val < min || val > max {
		return 0, errors.New("out of range")
	}
	return val, nil
}
