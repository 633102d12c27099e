package api

import (
	"net/http"

	"lambra/internal/dsl"
	"lambra/internal/engine"
	"lambra/internal/gateway"

	"github.com/gin-gonic/gin"
)

// ===== проекты =====

// GET /api/v1/projects?page&limit
func ListProjectsHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit, err := parsePage(c.Request.URL.Query())
		if err != nil {
			fail(c, err)
			return
		}
		res, err := svc.ListProjects(c.Request.Context(), page, limit)
		if err != nil {
			fail(c, err)
			return
		}
		items := res.Items
		if items == nil {
			items = []dsl.Project{}
		}
		respondPage(c, items, Pagination{
			Page:       res.Page,
			Limit:      res.Limit,
			TotalItems: res.Total,
			TotalPages: res.TotalPages,
		})
	}
}

// POST /api/v1/projects
func CreateProjectHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec dsl.ProjectSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badJSON(c, err)
			return
		}
		p, err := svc.CreateProject(c.Request.Context(), spec)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusCreated, "Project created", p)
	}
}

// GET /api/v1/projects/:id
func GetProjectHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.GetProject(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", p)
	}
}

// PUT /api/v1/projects/:id
func UpdateProjectHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch dsl.ProjectPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			badJSON(c, err)
			return
		}
		p, err := svc.UpdateProject(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Project updated", p)
	}
}

// DELETE /api/v1/projects/:id
func DeleteProjectHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Project deleted", nil)
	}
}

// GET /api/v1/projects/:id/definition
func DefinitionHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Definition(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", p)
	}
}

// POST /api/v1/projects/:id/generate
func GenerateHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Generate(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusAccepted, "Generation started", p)
	}
}

// POST /api/v1/projects/:id/regenerate
func RegenerateHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Regenerate(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusAccepted, "Regeneration started", p)
	}
}

// POST /api/v1/projects/:id/archive
func ArchiveHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Archive(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Project archived", p)
	}
}

// POST /api/v1/projects/:id/status - callback движка
func StatusReportHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r engine.Report
		if err := c.ShouldBindJSON(&r); err != nil {
			badJSON(c, err)
			return
		}
		id := c.Param("id")
		if err := svc.ReportStatus(c.Request.Context(), id, r); err != nil {
			fail(c, err)
			return
		}
		p, err := svc.GetProject(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Status updated", p)
	}
}

// GET /api/v1/projects/:id/endpoints
func ProjectEndpointsHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		eps, err := svc.ListProjectEndpoints(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", nonNil(eps))
	}
}

// ===== сущности =====

// GET /api/v1/projects/:id/entities
func ListEntitiesHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		es, err := svc.ListEntities(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", nonNil(es))
	}
}

// POST /api/v1/projects/:id/entities
func CreateEntityHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec dsl.EntitySpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badJSON(c, err)
			return
		}
		e, err := svc.AddEntity(c.Request.Context(), c.Param("id"), spec)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusCreated, "Entity created", e)
	}
}

// GET /api/v1/entities/:id
func GetEntityHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.GetEntity(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", e)
	}
}

// PUT /api/v1/entities/:id - полная замена, включая поля
func UpdateEntityHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec dsl.EntitySpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badJSON(c, err)
			return
		}
		e, err := svc.UpdateEntity(c.Request.Context(), c.Param("id"), spec)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Entity updated", e)
	}
}

// DELETE /api/v1/entities/:id
func DeleteEntityHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteEntity(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Entity deleted", nil)
	}
}

// GET /api/v1/entities/:id/preview
func PreviewHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		arts, err := svc.Preview(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", arts)
	}
}

// ===== эндпоинты =====

// GET /api/v1/entities/:id/endpoints
func ListEndpointsHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		eps, err := svc.ListEndpoints(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", nonNil(eps))
	}
}

// POST /api/v1/entities/:id/endpoints
func CreateEndpointHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec dsl.EndpointSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badJSON(c, err)
			return
		}
		ep, err := svc.AddEndpoint(c.Request.Context(), c.Param("id"), spec)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusCreated, "Endpoint created", ep)
	}
}

// GET /api/v1/endpoints/:id
func GetEndpointHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ep, err := svc.GetEndpoint(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", ep)
	}
}

// PUT /api/v1/endpoints/:id
func UpdateEndpointHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec dsl.EndpointSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			badJSON(c, err)
			return
		}
		ep, err := svc.UpdateEndpoint(c.Request.Context(), c.Param("id"), spec)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Endpoint updated", ep)
	}
}

// DELETE /api/v1/endpoints/:id
func DeleteEndpointHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteEndpoint(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "Endpoint deleted", nil)
	}
}

// GET /api/v1/endpoints/:id/lint
func LintEndpointHandler(svc *gateway.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues, err := svc.LintEndpoint(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusOK, "", gin.H{"valid": len(issues) == 0, "issues": issues})
	}
}

// пустой список отдаём как [], а не null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
