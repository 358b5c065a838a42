package doctrine

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/outcomex/pkg/response"
)

// GinHandlers contains HTTP handlers for governance administration.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the doctrine endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// UpsertProfileHandler handles PUT requests to install a risk profile.
func (h *GinHandlers) UpsertProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var profile RiskProfile
		if err := c.ShouldBindJSON(&profile); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if profile.AgentID == "" {
			response.BadRequest(c, "agent_id is required")
			return
		}

		h.service.UpsertProfile(profile)
		response.Success(c, profile)
	}
}

// PauseAgentHandler handles POST requests to pause one agent.
func (h *GinHandlers) PauseAgentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		h.service.PauseAgent(agentID)
		response.Success(c, h.service.Status(agentID))
	}
}

// ResumeAgentHandler handles POST requests to resume one agent.
func (h *GinHandlers) ResumeAgentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		h.service.ResumeAgent(agentID)
		response.Success(c, h.service.Status(agentID))
	}
}

// KillSwitchHandler handles POST requests to toggle the global halt.
func (h *GinHandlers) KillSwitchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Activate bool `json:"activate"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		h.service.GlobalKillSwitch(req.Activate)
		response.Success(c, gin.H{"globally_paused": req.Activate})
	}
}

// GetStatusHandler handles GET requests for one agent's gate state.
func (h *GinHandlers) GetStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		response.Success(c, h.service.Status(agentID))
	}
}

// GetViolationsHandler handles GET requests for an agent's audit log.
func (h *GinHandlers) GetViolationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		violations, err := h.service.Violations(agentID)
		response.Handle(c, violations, err)
	}
}
