package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"classledger/internal/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidDate:       http.StatusBadRequest,
	apperr.KindInvalid:           http.StatusBadRequest,
	apperr.KindPolicyViolation:   http.StatusUnprocessableEntity,
	apperr.KindEmptyRoster:       http.StatusUnprocessableEntity,
	apperr.KindUnknownRollNumber: http.StatusUnprocessableEntity,
	apperr.KindAlreadyMarked:     http.StatusConflict,
	apperr.KindNothingToEdit:     http.StatusConflict,
	apperr.KindAlreadyInactive:   http.StatusConflict,
	apperr.KindConflict:          http.StatusConflict,
	apperr.KindUnauthorized:      http.StatusForbidden,
	apperr.KindNotFound:          http.StatusNotFound,
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (h *handler) fail(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "internal error"})
		return
	}
	body := gin.H{"error": ae.Code, "message": ae.Message}
	if ae.Detail != "" {
		body["detail"] = ae.Detail
	}
	c.AbortWithStatusJSON(statusFor(ae.Kind), body)
}

// bind decodes the JSON body and reports binding failures as Invalid.
func (h *handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, bindError(err))
		return false
	}
	return true
}

func (h *handler) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		h.fail(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperr.Invalid("request field failed validation").WithDetail(verrs[0].Field() + ":" + verrs[0].Tag())
	}
	return apperr.Invalid("malformed request body")
}
