package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/deepresearch/config"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")

// bearerAuth accepts a token matching any configured credential: the plain
// secret, the bcrypt secret hash, or an HS256 JWT signed with jwt_secret.
func bearerAuth(cfg config.ServerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" || !authorized(cfg, tok) {
				return errUnauthorized
			}
			return next(c)
		}
	}
}

func authorized(cfg config.ServerConfig, tok string) bool {
	if cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(cfg.Secret)) == 1 {
		return true
	}
	if cfg.SecretHash != "" && bcrypt.CompareHashAndPassword([]byte(cfg.SecretHash), []byte(tok)) == nil {
		return true
	}
	if cfg.JWTSecret != "" {
		parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err == nil && parsed.Valid {
			return true
		}
	}
	return false
}

func extractToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
