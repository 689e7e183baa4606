package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"civicai.org/internal/audit"
	"civicai.org/internal/auth"
	"civicai.org/internal/ids"
)

type profileUpdateRequest struct {
	FullName          *string `json:"full_name"`
	Phone             *string `json:"phone"`
	Bio               *string `json:"bio"`
	AvatarURL         *string `json:"avatar_url"`
	PreferredLanguage *string `json:"preferred_language"`
	Location          *string `json:"location"`
}

func (req profileUpdateRequest) toUpdate() auth.ProfileUpdate {
	return auth.ProfileUpdate{
		FullName:          req.FullName,
		Phone:             req.Phone,
		Bio:               req.Bio,
		AvatarURL:         req.AvatarURL,
		PreferredLanguage: req.PreferredLanguage,
		Location:          req.Location,
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id := currentIdentity(r)
	writeJSON(w, http.StatusOK, newUserResponse(id.User))
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	a.updateProfile(w, r, currentIdentity(r).ID())
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "id")
	if !ids.Valid(target) {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	a.updateProfile(w, r, target)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.accounts.UpdateProfile(r.Context(), userID, req.toUpdate())
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventProfileUpdated, map[string]any{"target_user_id": u.ID})
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (a *API) handleDeactivateMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.accounts.Deactivate(r.Context(), currentIdentity(r).ID())
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventDeactivated, map[string]any{"target_user_id": u.ID})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        u.ID,
		"is_active": u.IsActive,
	})
}

func (a *API) handleUserByUsername(w http.ResponseWriter, r *http.Request) {
	u, err := a.accounts.ByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !u.IsActive && !currentIdentity(r).IsAdmin() {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, newPublicUserResponse(u))
}

func (a *API) handleAuthorityWhoAmI(w http.ResponseWriter, r *http.Request) {
	id := currentIdentity(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                     id.ID(),
		"role":                   string(id.Role()),
		"authority_type":         string(id.User.AuthorityType),
		"authority_verified":     id.User.AuthorityVerified,
		"authority_department":   id.User.AuthorityDepartment,
		"authority_jurisdiction": id.User.AuthorityJurisdiction,
	})
}
