package reputation

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/outcomex/pkg/response"
)

// GinHandlers contains HTTP handlers for score administration.
type GinHandlers struct {
	registry *Registry
}

// NewGinHandlers creates the reputation endpoint handlers.
func NewGinHandlers(registry *Registry) *GinHandlers {
	return &GinHandlers{registry: registry}
}

// UpsertScoresHandler handles POST requests from the external reputation
// subsystem to replace an agent's scores.
func (h *GinHandlers) UpsertScoresHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var scores Scores
		if err := c.ShouldBindJSON(&scores); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if scores.AgentID == "" {
			response.BadRequest(c, "agent_id is required")
			return
		}

		h.registry.Upsert(scores)
		response.Handle(c, h.registry.Get(scores.AgentID), nil)
	}
}

// GetScoresHandler handles GET requests for an agent's current scores.
func (h *GinHandlers) GetScoresHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		response.Handle(c, h.registry.Get(agentID), nil)
	}
}
