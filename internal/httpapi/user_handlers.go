package httpapi

import (
	"errors"
	"net/http"
	"time"

	"keygate.dev/internal/audit"
	"keygate.dev/internal/auth"
)

type userResponse struct {
	ID                  int64      `json:"id"`
	FullName            string     `json:"full_name"`
	Email               string     `json:"email"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

type updateMeRequest struct {
	FullName            *string `json:"full_name" validate:"omitempty,min=1"`
	OnboardingCompleted *bool   `json:"onboarding_completed"`
}

func userPayload(u *auth.User) userResponse {
	return userResponse{
		ID:                  u.ID,
		FullName:            u.FullName,
		Email:               u.Email,
		OnboardingCompleted: u.OnboardingCompleted,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
		LastLogin:           u.LastLogin,
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing credentials")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, userPayload(user))

	case http.MethodPatch:
		var req updateMeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.FullName == nil && req.OnboardingCompleted == nil {
			writeError(w, r, http.StatusBadRequest, "no fields to update")
			return
		}
		updated, err := a.svc.UpdateProfile(r.Context(), user.ID, auth.UserUpdate{
			FullName:            req.FullName,
			OnboardingCompleted: req.OnboardingCompleted,
		})
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "account not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "profile update failed")
			return
		}
		audit.LogEvent(r.Context(), "profile_updated", map[string]any{
			"user_id": updated.ID,
		})
		writeJSON(w, http.StatusOK, userPayload(updated))

	default:
		methodNotAllowed(w, r, "GET, PATCH")
	}
}
