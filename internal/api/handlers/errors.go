package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/snapmatch/internal/guest"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/pkg/dto"
)

// errorStatus maps a domain error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no_face_detected"
	case errors.Is(err, models.ErrUnreadableImage):
		return http.StatusUnprocessableEntity, "unreadable_image"
	case errors.Is(err, models.ErrExternalService):
		return http.StatusBadGateway, "external_service_error"
	case errors.Is(err, guest.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: "validation_error"})
}
