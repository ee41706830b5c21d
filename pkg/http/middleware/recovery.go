package middleware

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
)

// Recover turns handler panics into 500 responses instead of taking the
// process down.
func Recover() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					handlePanic(c, r)
				}
			}()
			return next(c)
		}
	}
}

func handlePanic(c echo.Context, r interface{}) {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	log.Printf("http panic: %v\n%s", err, debug.Stack())

	if c.Response().Committed {
		return
	}
	_ = c.JSON(http.StatusInternalServerError, echo.Map{
		"status":  http.StatusInternalServerError,
		"message": http.StatusText(http.StatusInternalServerError),
	})
}
