package api

import (
	"errors"
	"net/http"

	"lambra/internal/apperr"
	"lambra/internal/logger"

	"github.com/gin-gonic/gin"
)

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

type envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type failure struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Code    apperr.Kind         `json:"code"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

func respond(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, envelope{Success: true, Message: msg, Data: data})
}

func respondPage(c *gin.Context, data any, p Pagination) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Pagination: &p})
}

// statusFor: вид ошибки -> HTTP-статус
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.EngineFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail пишет ошибку в общем конверте. Внутренние ошибки наружу не уходят.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	out := failure{Code: kind, Errors: apperr.FieldsOf(err)}

	var ae *apperr.Error
	switch {
	case status == http.StatusInternalServerError:
		out.Code = apperr.Internal
		out.Message = "internal error"
		logger.WithError(err).WithField("path", c.FullPath()).Errorf("request failed")
	case errors.Is(err, apperr.ErrEngineFailure):
		out.Message = err.Error()
		logger.WithError(err).WithField("path", c.FullPath()).Warnf("engine failure")
	case errors.As(err, &ae):
		out.Message = ae.Message
	default:
		out.Message = err.Error()
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, out)
}

func badJSON(c *gin.Context, err error) {
	fail(c, apperr.NewValidation(apperr.Field(apperr.CodeInvalidJSON, "body", "Invalid JSON: "+err.Error())))
}
