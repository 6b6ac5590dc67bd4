package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/app"
)

func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindValidation, app.KindUnsupportedChannel:
		return http.StatusBadRequest
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func toErrorResponse(err error) errorResponse {
	var appErr *app.Error
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Kind != app.KindFailure && appErr.Err != nil {
			msg = appErr.Error()
		}
		return errorResponse{Code: appErr.Code, Message: msg}
	}
	return errorResponse{Code: "internal", Message: "internal error"}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(app.KindOf(err))
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, toErrorResponse(err))
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Code: "invalid_json", Message: err.Error()})
}
