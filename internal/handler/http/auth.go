package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/utafrali/authservice/internal/service"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/validator"
)

const maxBodyBytes = 1 << 20

// AuthHandler handles registration, login and token refresh.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Username string  `json:"username" validate:"required,max=64,username"`
	Email    string  `json:"email" validate:"required,email,max=254"`
	Password string  `json:"password" validate:"required,max=72"`
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=128"`
}

// TokenRequest carries OAuth2 password-grant credentials, either as form
// fields or as a JSON body. Tokens carry no scopes, so a client's scope
// parameter is accepted and ignored.
type TokenRequest struct {
	GrantType string `json:"grant_type,omitempty" form:"grant_type"`
	Username  string `json:"username" form:"username" validate:"required"`
	Password  string `json:"password" form:"password" validate:"required"`
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: user.Public()})
}

// Token handles POST /api/v1/auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	req, err := decodeTokenRequest(r)
	if err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if req.GrantType != "" && req.GrantType != "password" {
		httputil.WriteError(w, r, apperrors.InvalidInput("unsupported grant_type "+req.GrantType), h.logger)
		return
	}

	tokens, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteNoStore(w, http.StatusOK, tokens)
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req RefreshTokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteNoStore(w, http.StatusOK, tokens)
}

// decodeTokenRequest reads credentials from a form body, or from JSON when
// the request is not form-encoded.
func decodeTokenRequest(r *http.Request) (*TokenRequest, error) {
	var req TokenRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == contentTypeForm {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form body: " + err.Error())
		}
		req = TokenRequest{
			GrantType: r.PostForm.Get("grant_type"),
			Username:  r.PostForm.Get("username"),
			Password:  r.PostForm.Get("password"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid request body: " + err.Error())
	}

	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	return &req, nil
}
