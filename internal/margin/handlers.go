package margin

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/outcomex/pkg/response"
)

// GinHandlers contains HTTP handlers for margin account inspection.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the margin endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetAccountHandler handles GET requests for one agent's margin account.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		account, err := h.service.GetAccount(agentID)
		response.Handle(c, account, err)
	}
}

// GetAllAccountsHandler handles GET requests for every margin account.
// Internal surface, used by risk dashboards.
func (h *GinHandlers) GetAllAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Handle(c, h.service.AllAccounts(), nil)
	}
}

// GetNovationsHandler handles GET requests for an agent's CCP legs.
func (h *GinHandlers) GetNovationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		novations, err := h.service.Novations(agentID)
		response.Handle(c, novations, err)
	}
}

// GetLiquidationsHandler handles GET requests for an agent's liquidation
// history.
func (h *GinHandlers) GetLiquidationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		liquidations, err := h.service.Liquidations(agentID)
		response.Handle(c, liquidations, err)
	}
}
