package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/pkg/response"
)

// GinHandlers contains HTTP handlers for wallet administration.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the wallet endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type walletRequest struct {
	AgentID string          `json:"agent_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateWalletHandler handles POST requests to onboard an agent wallet.
func (h *GinHandlers) CreateWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.CreateWallet(req.AgentID, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}

		balance, err := h.service.Balance(req.AgentID)
		response.Handle(c, balance, err)
	}
}

// DepositHandler handles POST requests to credit external funds.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Deposit(req.AgentID, req.Amount, "DEP_"+uuid.New().String()); err != nil {
			response.Handle(c, nil, err)
			return
		}

		balance, err := h.service.Balance(req.AgentID)
		response.Handle(c, balance, err)
	}
}

// WithdrawHandler handles POST requests to debit funds to an external
// destination.
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req walletRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Withdraw(req.AgentID, req.Amount, "WDR_"+uuid.New().String()); err != nil {
			response.Handle(c, nil, err)
			return
		}

		balance, err := h.service.Balance(req.AgentID)
		response.Handle(c, balance, err)
	}
}

// GetBalanceHandler handles GET requests for an agent's funds split.
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		balance, err := h.service.Balance(agentID)
		response.Handle(c, balance, err)
	}
}

// GetEntriesHandler handles GET requests for an agent's audit trail.
func (h *GinHandlers) GetEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")

		entries, err := h.service.Entries(agentID)
		response.Handle(c, entries, err)
	}
}
