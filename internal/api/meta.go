package api

import (
	"context"
	"net/http"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/lifecycle"
	"lambra/internal/logger"

	"github.com/gin-gonic/gin"
)

// ===== META =====

type metaFieldType struct {
	Type          dsl.FieldType `json:"type"`
	Description   string        `json:"description"`
	HasLength     bool          `json:"has_length"`
	DefaultLength int           `json:"default_length,omitempty"`
}

var fieldTypeDescriptions = map[dsl.FieldType]string{
	dsl.TypeString:   "text up to length characters",
	dsl.TypeInt:      "64-bit integer",
	dsl.TypeFloat:    "double precision number",
	dsl.TypeBool:     "true / false",
	dsl.TypeDate:     "calendar date",
	dsl.TypeDateTime: "timestamp with time zone",
	dsl.TypeJSON:     "arbitrary JSON document",
}

// GET /api/v1/meta/field-types
func FieldTypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]metaFieldType, 0, len(dsl.FieldTypes))
		for _, t := range dsl.FieldTypes {
			m := metaFieldType{Type: t, Description: fieldTypeDescriptions[t]}
			if t == dsl.TypeString {
				m.HasLength = true
				m.DefaultLength = dsl.DefaultStringLength
			}
			out = append(out, m)
		}
		respond(c, http.StatusOK, "", out)
	}
}

// GET /api/v1/meta/methods
func MethodsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, http.StatusOK, "", dsl.Methods)
	}
}

type metaStatus struct {
	Status lifecycle.Status  `json:"status"`
	Events []lifecycle.Event `json:"events"`
}

// GET /api/v1/meta/lifecycle
func LifecycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]metaStatus, 0, len(lifecycle.Statuses))
		for _, st := range lifecycle.Statuses {
			out = append(out, metaStatus{Status: st, Events: nonNil(lifecycle.Allowed(st))})
		}
		respond(c, http.StatusOK, "", out)
	}
}

// Pinger - проверка зависимости для /health (например, *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// GET /health
func HealthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respond(c, http.StatusOK, "Service is healthy", gin.H{"status": "healthy", "database": "in-memory"})
			return
		}
		if err := db.PingContext(c.Request.Context()); err != nil {
			logger.WithError(err).Errorf("health: database ping failed")
			c.JSON(http.StatusServiceUnavailable, failure{Message: "database connection failed", Code: apperr.Internal})
			return
		}
		respond(c, http.StatusOK, "Service is healthy", gin.H{"status": "healthy", "database": "connected"})
	}
}

// GET /ready - процесс поднят и принимает запросы; зависимости не проверяются.
func ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, http.StatusOK, "Service is ready", gin.H{"status": "ready"})
	}
}
