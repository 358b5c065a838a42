package venue

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ksred/outcomex/internal/types"
	"github.com/ksred/outcomex/pkg/response"
)

// GinHandlers contains HTTP handlers for the trading surface.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the trading endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateOrderHandler handles POST requests to submit a new order. The
// agent identity comes from the token, never the body.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.ProcessOrder(agentID, req)
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler handles DELETE requests for a resting order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")
		orderID := c.Param("order_id")

		order, err := h.service.CancelOrder(agentID, orderID)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		order, err := h.service.GetOrder(orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if order.AgentID != c.GetString("agentID") {
			response.Handle(c, nil, types.ErrForbidden)
			return
		}
		response.Success(c, order)
	}
}

// GetAgentOrdersHandler handles GET requests for the caller's order
// history.
func (h *GinHandlers) GetAgentOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")

		orders, err := h.service.GetAgentOrders(agentID)
		response.Handle(c, orders, err)
	}
}

// GetTradesHandler handles GET requests for a market's trade tape.
func (h *GinHandlers) GetTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marketID := c.Param("market_id")

		trades, err := h.service.GetTrades(marketID)
		response.Handle(c, trades, err)
	}
}

// GetAgentTradesHandler handles GET requests for the caller's executions.
func (h *GinHandlers) GetAgentTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")

		trades, err := h.service.GetAgentTrades(agentID)
		response.Handle(c, trades, err)
	}
}

// GetBestPricesHandler handles GET requests for top-of-book on both
// outcome tokens.
func (h *GinHandlers) GetBestPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marketID := c.Param("market_id")

		prices, err := h.service.GetBestPrices(marketID)
		response.Handle(c, prices, err)
	}
}

// GetOrderBookHandler handles GET requests for an aggregated depth
// snapshot of one outcome book.
func (h *GinHandlers) GetOrderBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marketID := c.Param("market_id")

		outcome := types.Outcome(c.DefaultQuery("outcome", string(types.OutcomeYes)))
		if outcome != types.OutcomeYes && outcome != types.OutcomeNo {
			response.BadRequest(c, "outcome must be YES or NO")
			return
		}
		depth, err := strconv.Atoi(c.DefaultQuery("depth", "0"))
		if err != nil || depth < 0 {
			response.BadRequest(c, "depth must be a non-negative integer")
			return
		}

		snapshot, err := h.service.GetOrderBook(marketID, outcome, depth)
		response.Handle(c, snapshot, err)
	}
}

type createMarketRequest struct {
	MarketID string `json:"market_id" binding:"required"`
	Topic    string `json:"topic"`
}

// CreateMarketHandler handles POST requests to open a new market.
// Internal surface.
func (h *GinHandlers) CreateMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createMarketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		market, err := h.service.InitializeMarket(req.MarketID, req.Topic)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"market_id": market.ID,
			"topic":     market.Topic,
			"status":    market.Status,
		})
	}
}

type resolveMarketRequest struct {
	Outcome types.Outcome `json:"outcome" binding:"required"`
}

// ResolveMarketHandler handles POST requests to resolve a market at its
// terminal outcome. Internal surface.
func (h *GinHandlers) ResolveMarketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		marketID := c.Param("market_id")

		var req resolveMarketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.Outcome != types.OutcomeYes && req.Outcome != types.OutcomeNo {
			response.BadRequest(c, "outcome must be YES or NO")
			return
		}

		err := h.service.ResolveMarket(marketID, req.Outcome)
		response.Handle(c, gin.H{"market_id": marketID, "outcome": req.Outcome}, err)
	}
}

// ForceCloseHandler handles DELETE requests to cancel any resting order.
// Internal surface.
func (h *GinHandlers) ForceCloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		order, err := h.service.ForceClose(orderID)
		response.Handle(c, order, err)
	}
}
