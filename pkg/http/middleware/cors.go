package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig lists what cross-origin requests may do.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// CORS stamps allow headers on requests from permitted origins and answers
// preflights. Requests from other origins pass through without headers, the
// browser enforces the rest.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	allowAll := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)

			switch {
			case origin != "" && originAllowed(cfg.AllowOrigins, origin):
				c.Response().Header().Set("Access-Control-Allow-Origin", origin)
			case origin == "" && allowAll:
				c.Response().Header().Set("Access-Control-Allow-Origin", "*")
			default:
				return next(c)
			}

			if methods != "" {
				c.Response().Header().Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				c.Response().Header().Set("Access-Control-Allow-Headers", headers)
			}

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
