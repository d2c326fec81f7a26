package http

import (
	"net/http"

	"github.com/utafrali/authservice/pkg/httputil"
)

// IndexResponse describes the API at the root path.
type IndexResponse struct {
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

// Index handles GET /
func Index(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: IndexResponse{
		Message: "authentication API",
		Endpoints: map[string]string{
			"register": "/api/v1/auth/register",
			"token":    "/api/v1/auth/token",
			"refresh":  "/api/v1/auth/refresh",
			"profile":  "/api/v1/users/me",
			"users":    "/api/v1/users",
		},
	}})
}
