package httpapi

import (
	"time"

	"civicai.org/internal/auth"
)

type userResponse struct {
	ID                    string       `json:"id"`
	Email                 string       `json:"email"`
	Username              string       `json:"username"`
	FullName              string       `json:"full_name"`
	Role                  string       `json:"role"`
	Profile               auth.Profile `json:"profile"`
	AuthorityType         string       `json:"authority_type,omitempty"`
	AuthorityVerified     bool         `json:"authority_verified"`
	AuthorityDepartment   string       `json:"authority_department,omitempty"`
	AuthorityJurisdiction string       `json:"authority_jurisdiction,omitempty"`
	FollowersCount        int          `json:"followers_count"`
	FollowingCount        int          `json:"following_count"`
	IsActive              bool         `json:"is_active"`
	IsVerified            bool         `json:"is_verified"`
	CreatedAt             time.Time    `json:"created_at"`
	LastLoginAt           *time.Time   `json:"last_login_at,omitempty"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:                    u.ID,
		Email:                 u.Email,
		Username:              u.Username,
		FullName:              u.FullName,
		Role:                  string(u.Role),
		Profile:               u.Profile,
		AuthorityType:         string(u.AuthorityType),
		AuthorityVerified:     u.AuthorityVerified,
		AuthorityDepartment:   u.AuthorityDepartment,
		AuthorityJurisdiction: u.AuthorityJurisdiction,
		FollowersCount:        len(u.Followers),
		FollowingCount:        len(u.Following),
		IsActive:              u.IsActive,
		IsVerified:            u.IsVerified,
		CreatedAt:             u.CreatedAt,
		LastLoginAt:           u.LastLoginAt,
	}
}

// publicUserResponse is what other users see: no email, no login history.
type publicUserResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	FullName          string    `json:"full_name"`
	Role              string    `json:"role"`
	Bio               string    `json:"bio,omitempty"`
	AvatarURL         string    `json:"avatar_url,omitempty"`
	AuthorityType     string    `json:"authority_type,omitempty"`
	AuthorityVerified bool      `json:"authority_verified"`
	FollowersCount    int       `json:"followers_count"`
	FollowingCount    int       `json:"following_count"`
	CreatedAt         time.Time `json:"created_at"`
}

func newPublicUserResponse(u *auth.User) publicUserResponse {
	return publicUserResponse{
		ID:                u.ID,
		Username:          u.Username,
		FullName:          u.FullName,
		Role:              string(u.Role),
		Bio:               u.Profile.Bio,
		AvatarURL:         u.Profile.AvatarURL,
		AuthorityType:     string(u.AuthorityType),
		AuthorityVerified: u.AuthorityVerified,
		FollowersCount:    len(u.Followers),
		FollowingCount:    len(u.Following),
		CreatedAt:         u.CreatedAt,
	}
}

type userListResponse struct {
	Users    []userResponse `json:"users"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func newUserListResponse(p auth.UserPage) userListResponse {
	out := userListResponse{
		Users:    make([]userResponse, 0, len(p.Users)),
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
	}
	for _, u := range p.Users {
		out.Users = append(out.Users, newUserResponse(u))
	}
	return out
}
