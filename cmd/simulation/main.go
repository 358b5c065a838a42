package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/book"
	"github.com/ksred/outcomex/internal/database"
	"github.com/ksred/outcomex/internal/doctrine"
	"github.com/ksred/outcomex/internal/events"
	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/margin"
	"github.com/ksred/outcomex/internal/reputation"
	"github.com/ksred/outcomex/internal/types"
	"github.com/ksred/outcomex/internal/venue"
)

const (
	minOrders     = 50
	maxOrders     = 300
	numAgents     = 5
	agentFunding  = "10000"
	serverAddress = "http://localhost:8080"
)

var markets = []struct {
	id    string
	topic string
}{
	{"MKT_BTC_100K", "crypto"},
	{"MKT_RAIN_FRIDAY", "weather"},
	{"MKT_ELECTION_RECOUNT", "politics"},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the venue API
type simulationClient struct {
	baseURL string
	client  *http.Client

	statsMu sync.Mutex
	stats   map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"wallet":  {name: "Create Wallet"},
			"market":  {name: "Create Market"},
			"order":   {name: "Submit Order"},
			"cancel":  {name: "Cancel Order"},
			"book":    {name: "Order Book"},
			"margin":  {name: "Margin Account"},
			"resolve": {name: "Resolve Market"},
		},
	}
}

func (sc *simulationClient) track(route string, start time.Time, failed bool) {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

// do issues a JSON request as the given agent and decodes the envelope's
// data field into out (when non-nil).
func (sc *simulationClient) do(method, path, agentID string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if agentID != "" {
		req.Header.Set("X-Agent-ID", agentID)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) createWallet(agentID string, amount string) error {
	start := time.Now()
	err := sc.do("POST", "/api/v1/internal/wallets", agentID, map[string]string{
		"agent_id": agentID,
		"amount":   amount,
	}, nil)
	sc.track("wallet", start, err != nil)
	return err
}

func (sc *simulationClient) createMarket(marketID, topic string) error {
	start := time.Now()
	err := sc.do("POST", "/api/v1/internal/markets", "operator", map[string]string{
		"market_id": marketID,
		"topic":     topic,
	}, nil)
	sc.track("market", start, err != nil)
	return err
}

// submitOrder posts an order and returns the result. Doctrine rejections
// come back as a result with a violation, not a transport error.
func (sc *simulationClient) submitOrder(agentID string, req map[string]interface{}) (*types.OrderResult, error) {
	start := time.Now()
	var result types.OrderResult
	err := sc.do("POST", "/api/v1/orders", agentID, req, &result)
	sc.track("order", start, err != nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) cancelOrder(agentID, orderID string) error {
	start := time.Now()
	err := sc.do("DELETE", "/api/v1/orders/"+orderID, agentID, nil, nil)
	sc.track("cancel", start, err != nil)
	return err
}

func (sc *simulationClient) getOrderBook(marketID string) (*types.BookSnapshot, error) {
	start := time.Now()
	var snapshot types.BookSnapshot
	err := sc.do("GET", "/api/v1/markets/"+marketID+"/book?outcome=YES&depth=5", "observer", nil, &snapshot)
	sc.track("book", start, err != nil)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (sc *simulationClient) getMarginAccount(agentID string) (*margin.Account, error) {
	start := time.Now()
	var account margin.Account
	err := sc.do("GET", "/api/v1/accounts/"+agentID+"/margin", agentID, nil, &account)
	sc.track("margin", start, err != nil)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (sc *simulationClient) resolveMarket(marketID string, outcome types.Outcome) error {
	start := time.Now()
	err := sc.do("POST", "/api/v1/internal/markets/"+marketID+"/resolve", "operator", map[string]string{
		"outcome": string(outcome),
	}, nil)
	sc.track("resolve", start, err != nil)
	return err
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the venue simulation: it starts a local API server, onboards
// agents, opens markets, drives concurrent order flow and resolves one
// market at the end.
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	// Onboard agents and open markets.
	agents := make([]string, numAgents)
	for i := range agents {
		agents[i] = fmt.Sprintf("AGENT_%d", i)
		if err := simClient.createWallet(agents[i], agentFunding); err != nil {
			log.Fatal().Err(err).Str("agent_id", agents[i]).Msg("Failed to create wallet")
		}
	}
	for _, m := range markets {
		if err := simClient.createMarket(m.id, m.topic); err != nil {
			log.Fatal().Err(err).Str("market_id", m.id).Msg("Failed to create market")
		}
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	stats := struct {
		mu            sync.Mutex
		TotalOrders   int
		Filled        int
		Resting       int
		Cancelled     int
		RejectedRule  map[string]int
		Trades        int
		TotalNotional decimal.Decimal
		Markets       map[string]int
		Sides         map[string]int
		StartTime     time.Time
	}{
		RejectedRule:  make(map[string]int),
		TotalNotional: decimal.Zero,
		Markets:       make(map[string]int),
		Sides:         make(map[string]int),
		StartTime:     time.Now(),
	}

	var wg sync.WaitGroup
	perAgent := targetOrders / numAgents
	for _, agentID := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			for i := 0; i < perAgent; i++ {
				m := markets[rand.Intn(len(markets))]
				side := types.SideBuy
				if rand.Intn(2) == 0 {
					side = types.SideSell
				}
				outcome := types.OutcomeYes
				if rand.Intn(2) == 0 {
					outcome = types.OutcomeNo
				}
				orderType := types.OrderTypeLimit
				if rand.Intn(10) == 0 {
					orderType = types.OrderTypeMarket
				}

				req := map[string]interface{}{
					"market_id": m.id,
					"side":      side,
					"outcome":   outcome,
					"type":      orderType,
					"quantity":  fmt.Sprintf("%d", rand.Intn(50)+1),
				}
				if orderType == types.OrderTypeLimit {
					// Prices clustered around 0.5 to encourage crossing.
					req["price"] = fmt.Sprintf("0.%02d", 30+rand.Intn(40))
				}

				result, err := simClient.submitOrder(agentID, req)
				if err != nil {
					log.Warn().Err(err).Str("agent_id", agentID).Msg("Order submission failed")
					continue
				}

				stats.mu.Lock()
				stats.TotalOrders++
				stats.Markets[m.id]++
				stats.Sides[string(side)]++
				stats.Trades += len(result.Trades)
				for _, trade := range result.Trades {
					stats.TotalNotional = stats.TotalNotional.Add(trade.Notional())
				}
				switch {
				case result.Violation != nil && result.Violation.Blocks():
					stats.RejectedRule[result.Violation.Rule]++
				case result.Order.Status == types.OrderStatusFilled:
					stats.Filled++
				case result.Order.Status == types.OrderStatusOpen,
					result.Order.Status == types.OrderStatusPartial:
					stats.Resting++
				}
				stats.mu.Unlock()

				// Occasionally cancel a resting order.
				if result.Order.Status == types.OrderStatusOpen && rand.Intn(5) == 0 {
					if err := simClient.cancelOrder(agentID, result.Order.OrderID); err == nil {
						stats.mu.Lock()
						stats.Cancelled++
						stats.mu.Unlock()
					}
				}

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
			}
		}(agentID)
	}
	wg.Wait()

	// Inspect a book and the margin accounts.
	if snapshot, err := simClient.getOrderBook(markets[0].id); err == nil {
		log.Info().
			Str("market_id", snapshot.MarketID).
			Int("bid_levels", len(snapshot.Bids)).
			Int("ask_levels", len(snapshot.Asks)).
			Msg("Final YES book")
	}
	for _, agentID := range agents {
		account, err := simClient.getMarginAccount(agentID)
		if err != nil {
			continue
		}
		log.Info().
			Str("agent_id", agentID).
			Str("cash", account.CashBalance.String()).
			Str("margin_used", account.MarginUsed.String()).
			Str("status", account.Status).
			Int("positions", len(account.Positions)).
			Msg("Margin account")
	}

	// Resolve the first market at a coin-flip outcome.
	finalOutcome := types.OutcomeYes
	if rand.Intn(2) == 0 {
		finalOutcome = types.OutcomeNo
	}
	if err := simClient.resolveMarket(markets[0].id, finalOutcome); err != nil {
		log.Error().Err(err).Msg("Failed to resolve market")
	} else {
		log.Info().
			Str("market_id", markets[0].id).
			Str("outcome", string(finalOutcome)).
			Msg("Market resolved")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("VENUE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:   %d
Filled:         %d
Resting:        %d
Cancelled:      %d
Trades:         %d
Total Notional: %s
Duration:       %v

Market Distribution
-------------------
`, stats.TotalOrders, stats.Filled, stats.Resting, stats.Cancelled,
		stats.Trades, stats.TotalNotional.StringFixed(2), duration.Round(time.Millisecond))

	maxMarketCount := 0
	for _, count := range stats.Markets {
		if count > maxMarketCount {
			maxMarketCount = count
		}
	}
	for marketID, count := range stats.Markets {
		barLength := int(float64(count) / float64(maxMarketCount) * 20)
		fmt.Printf("%-22s: %s (%d)\n", marketID, strings.Repeat("#", barLength), count)
	}

	if len(stats.RejectedRule) > 0 {
		fmt.Println("\nDoctrine Rejections")
		fmt.Println("-------------------")
		for rule, count := range stats.RejectedRule {
			fmt.Printf("%-22s: %d\n", rule, count)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	fillRate := float64(stats.Filled) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("fill_rate", fillRate).
		Int("total_orders", stats.TotalOrders).
		Int("trades", stats.Trades).
		Str("total_notional", stats.TotalNotional.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer builds the full venue stack on an in-memory agent identity
// header instead of JWT, which keeps the simulation focused on the trading
// pipeline.
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	bus := events.NewBus(1024)
	fundsService := ledger.NewService(ledger.NewDatabase(db))
	if err := fundsService.CreateWallet(ledger.CCPAgentID, decimal.NewFromInt(1000000)); err != nil {
		return fmt.Errorf("failed to create CCP wallet: %w", err)
	}
	scores := reputation.NewRegistry()
	gateService := doctrine.NewService(doctrine.NewDatabase(db), scores)
	engine := book.NewEngine()
	marginService := margin.NewService(fundsService, margin.NewDatabase(db), bus, gateService)
	venueService := venue.NewService(engine, fundsService, gateService, marginService, venue.NewDatabase(db), bus)

	fundsHandlers := ledger.NewGinHandlers(fundsService)
	marginHandlers := margin.NewGinHandlers(marginService)
	venueHandlers := venue.NewGinHandlers(venueService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Set("agentID", c.GetHeader("X-Agent-ID"))
		c.Next()
	})

	v1 := router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", venueHandlers.CreateOrderHandler())
			orders.GET("/:order_id", venueHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", venueHandlers.CancelOrderHandler())
		}
		marketsGroup := v1.Group("/markets")
		{
			marketsGroup.GET("/:market_id/book", venueHandlers.GetOrderBookHandler())
			marketsGroup.GET("/:market_id/prices", venueHandlers.GetBestPricesHandler())
			marketsGroup.GET("/:market_id/trades", venueHandlers.GetTradesHandler())
		}
		accounts := v1.Group("/accounts")
		{
			accounts.GET("/:agent_id/balance", fundsHandlers.GetBalanceHandler())
			accounts.GET("/:agent_id/margin", marginHandlers.GetAccountHandler())
		}
		internal := v1.Group("/internal")
		{
			internal.POST("/wallets", fundsHandlers.CreateWalletHandler())
			internal.POST("/markets", venueHandlers.CreateMarketHandler())
			internal.POST("/markets/:market_id/resolve", venueHandlers.ResolveMarketHandler())
		}
	}

	return router.Run(":8080")
}
