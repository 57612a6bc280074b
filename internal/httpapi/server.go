package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/coralbridge/msgbridge/internal/config"
	"github.com/coralbridge/msgbridge/internal/dispatch"
)

// NewEngine builds the gin engine with routes and middleware wired, ready
// to Run.
func NewEngine(cfg *config.Config, pipeline *dispatch.Pipeline) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), gin.Logger())

	srv := NewServer(pipeline)

	v1 := engine.Group("/v1")
	v1.Use(APIKeyMiddleware(cfg))
	v1.POST("/messages", srv.Messages)

	return engine
}
