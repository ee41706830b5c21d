package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every endpoint replies with. Status mirrors
// the HTTP status code.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListDataResponse wraps list payloads with their total count.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}

func envelope(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessResponse writes a 200 with data.
func SuccessResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusOK, data)
}

// CreatedResponse writes a 201 with data.
func CreatedResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusCreated, data)
}

// ListResponse writes a 200 with rows and their total.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return SuccessResponse(c, &ListDataResponse{Rows: rows, Total: total})
}

// BadRequestResponse writes a 400, data usually being validation errors.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusBadRequest, data)
}

// AppErrorResponse writes an AppError with its own status. Anything else
// becomes an opaque 500, the cause is for logs only.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return envelope(c, appErr.Status, []*AppError{appErr})
	}
	return envelope(c, http.StatusInternalServerError, "something went wrong")
}
