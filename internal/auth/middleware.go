package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const AdminHeader = "X-Admin-Secret"

// Middleware admits requests carrying the admin secret, either in
// X-Admin-Secret or as a bearer token, or a bearer JWT issued by Login.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.CheckSecret(c.Request().Header.Get(AdminHeader)) {
			return next(c)
		}

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			token := strings.TrimSpace(authHeader[7:])
			if s.CheckSecret(token) || s.ValidateToken(token) == nil {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}
