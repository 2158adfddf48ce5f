package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/recap-app/recap/errors"
	"github.com/recap-app/recap/pkg/jwt"
)

// JWTAuth returns middleware that requires a valid bearer token on every
// request it guards.
func JWTAuth(jwtManager *jwt.Manager, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := ExtractToken(c.Request())
			if token == "" {
				return HandleError(logger, c, errors.ErrUnauthenticated())
			}
			claims, err := jwtManager.ValidateToken(token)
			if err != nil {
				return HandleError(logger, c, errors.ErrUnauthenticated())
			}
			c.Set("subject", claims.Subject)
			return next(c)
		}
	}
}
