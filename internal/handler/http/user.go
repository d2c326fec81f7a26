package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/authservice/internal/service"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
)

// UserHandler serves the authenticated user endpoints.
type UserHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// Me handles GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("not authenticated"), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: user.Public()})
}

// List handles GET /api/v1/users. Any active user may list every account.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: users})
}
