// api/router.go
package api

import (
	"net/http"
	"time"

	"lambra/internal/apperr"
	"lambra/internal/gateway"
	"lambra/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter собирает маршруты /api/v1. db - для /health, может быть nil.
func NewRouter(svc *gateway.Service, db Pinger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())

	r.GET("/health", HealthHandler(db))
	r.GET("/ready", ReadyHandler())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/meta/field-types", FieldTypesHandler())
		v1.GET("/meta/methods", MethodsHandler())
		v1.GET("/meta/lifecycle", LifecycleHandler())

		// проекты
		v1.GET("/projects", ListProjectsHandler(svc))
		v1.POST("/projects", CreateProjectHandler(svc))
		v1.GET("/projects/:id", GetProjectHandler(svc))
		v1.PUT("/projects/:id", UpdateProjectHandler(svc))
		v1.DELETE("/projects/:id", DeleteProjectHandler(svc))
		v1.GET("/projects/:id/definition", DefinitionHandler(svc))
		v1.GET("/projects/:id/endpoints", ProjectEndpointsHandler(svc))

		// жизненный цикл
		v1.POST("/projects/:id/generate", GenerateHandler(svc))
		v1.POST("/projects/:id/regenerate", RegenerateHandler(svc))
		v1.POST("/projects/:id/archive", ArchiveHandler(svc))
		v1.POST("/projects/:id/status", StatusReportHandler(svc))

		// сущности
		v1.GET("/projects/:id/entities", ListEntitiesHandler(svc))
		v1.POST("/projects/:id/entities", CreateEntityHandler(svc))
		v1.GET("/entities/:id", GetEntityHandler(svc))
		v1.PUT("/entities/:id", UpdateEntityHandler(svc))
		v1.DELETE("/entities/:id", DeleteEntityHandler(svc))
		v1.GET("/entities/:id/preview", PreviewHandler(svc))

		// эндпоинты
		v1.GET("/entities/:id/endpoints", ListEndpointsHandler(svc))
		v1.POST("/entities/:id/endpoints", CreateEndpointHandler(svc))
		v1.GET("/endpoints/:id", GetEndpointHandler(svc))
		v1.PUT("/endpoints/:id", UpdateEndpointHandler(svc))
		v1.DELETE("/endpoints/:id", DeleteEndpointHandler(svc))
		v1.GET("/endpoints/:id/lint", LintEndpointHandler(svc))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, failure{Message: "route not found", Code: apperr.NotFound})
	})
	return r
}

// RequestLogger пишет каждый запрос в logrus.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
