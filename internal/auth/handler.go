package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/apperr"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/utils"
)

// HostStore is the host persistence used by the handler.
type HostStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Host, error)
	Create(ctx context.Context, email, passwordHash, name string) (*models.Host, error)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string       `json:"token"`
	Host  *models.Host `json:"host"`
}

// Handler serves host registration and login.
type Handler struct {
	repo   HostStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo HostStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	email := normalizeEmail(req.Email)

	hash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrPasswordTooShort) || errors.Is(err, utils.ErrPasswordTooLong) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	host, err := h.repo.Create(c.Request.Context(), email, hash, strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Warn("register host", zap.String("email", email), zap.Error(err))
		response.Error(c, err, "failed to create host")
		return
	}

	h.logger.Info("host registered", zap.String("host_id", host.ID.String()))
	h.issue(c, host, true)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	email := normalizeEmail(req.Email)

	host, err := h.repo.GetByEmail(c.Request.Context(), email)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		response.Unauthorized(c, "invalid email or password")
		return
	case err != nil:
		h.logger.Error("login lookup", zap.String("email", email), zap.Error(err))
		response.Internal(c, "login failed")
		return
	}

	if !utils.CheckPassword(req.Password, host.Password) {
		h.logger.Info("login rejected", zap.String("host_id", host.ID.String()), zap.String("ip", c.ClientIP()))
		response.Unauthorized(c, "invalid email or password")
		return
	}

	h.issue(c, host, false)
}

// issue signs a host JWT and writes the token response.
func (h *Handler) issue(c *gin.Context, host *models.Host, created bool) {
	token, err := h.jwt.Generate(host.ID, host.Email)
	if err != nil {
		h.logger.Error("sign host token", zap.String("host_id", host.ID.String()), zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	if created {
		response.Created(c, TokenResponse{Token: token, Host: host})
		return
	}
	response.OK(c, TokenResponse{Token: token, Host: host})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
