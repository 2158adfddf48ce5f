package handler

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recap-app/recap/errors"
	meetingdto "github.com/recap-app/recap/internal/adapter/dto/meeting"
	"github.com/recap-app/recap/pkg/jwt"
	"github.com/recap-app/recap/pkg/validator"
)

// AuthHandler mints bearer tokens for API clients that know the configured
// secret. This API serves local UI clients on the same device, so a shared
// secret exchange is the whole handshake.
type AuthHandler struct {
	jwtManager *jwt.Manager
	secret     string
	logger     *zap.Logger
}

// NewAuthHandler creates the auth handler
func NewAuthHandler(jwtManager *jwt.Manager, secret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager, secret: secret, logger: logger}
}

// Token exchanges the API secret for a bearer token
func (h *AuthHandler) Token(c echo.Context) error {
	var req meetingdto.TokenRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidPayload())
	}
	if err := validator.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secret)) != 1 {
		return HandleError(h.logger, c, errors.ErrUnauthenticated())
	}

	token, err := h.jwtManager.GenerateToken(req.Subject)
	if err != nil {
		return HandleError(h.logger, c, errors.ErrInternal(err))
	}
	return HandleSuccess(h.logger, c, map[string]interface{}{"token": token})
}
