// Package api wires the HTTP surface: REST endpoints for submission and
// status, WebSocket streams for live progress.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/prospect/internal/api/handler"
	"github.com/timmy/prospect/internal/api/middleware"
	"github.com/timmy/prospect/internal/batch"
	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/registry"
	"github.com/timmy/prospect/internal/repository"
	"github.com/timmy/prospect/internal/research"
	"github.com/timmy/prospect/internal/storage"
)

// Deps carries everything the router needs. Reports and Archive are
// optional.
type Deps struct {
	Registry     *registry.Registry
	Runner       *research.Runner
	Orchestrator *batch.Orchestrator
	Bus          *broadcast.Broadcaster
	Reports      *storage.ReportArchive
	Archive      *repository.JobArchive
	Mode         string
	CORS         middleware.CORSConfig

	// Defaults are the configured scorer parameters for single
	// submissions; batch submissions carry their own.
	Defaults research.Options
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps Deps) *gin.Engine {
	switch deps.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.Registry)
	researchHandler := handler.NewResearchHandler(deps.Registry, deps.Runner, deps.Reports, deps.Archive, deps.Defaults)
	batchHandler := handler.NewBatchHandler(deps.Orchestrator)
	streamHandler := handler.NewStreamHandler(deps.Registry, deps.Orchestrator, deps.Bus)

	r.GET("/health", healthHandler.Health)

	// Live event streams
	r.GET("/research/ws/:id", streamHandler.Stream)

	v1 := r.Group("/api/v1")
	{
		// Single research jobs
		v1.POST("/research", researchHandler.Submit)
		v1.GET("/research/:id", researchHandler.Status)
		v1.GET("/research/:id/report", researchHandler.Report)
		v1.POST("/research/:id/reset", researchHandler.Reset)

		// Batches
		v1.POST("/research/batch", batchHandler.Submit)
		v1.GET("/batch/:id", batchHandler.Status)

		// Archived history, only when a database is configured
		if deps.Archive != nil {
			v1.GET("/research/history", researchHandler.History)
		}
	}

	return r
}
