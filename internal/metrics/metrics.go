// Package metrics provides Prometheus instrumentation for the venue.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts processed orders by terminal disposition.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcomex_orders_total",
		Help: "Total orders processed, by resulting status",
	}, []string{"status"})

	// TradesTotal counts committed matches.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outcomex_trades_total",
		Help: "Total trades executed",
	})

	// TradeVolume accumulates matched notional per market.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcomex_trade_volume_total",
		Help: "Cumulative matched notional value",
	}, []string{"market_id"})

	// ViolationsTotal counts doctrine violations by rule and severity.
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcomex_doctrine_violations_total",
		Help: "Doctrine violations recorded",
	}, []string{"rule", "severity"})

	// NovationsTotal counts CCP novations by result.
	NovationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcomex_novations_total",
		Help: "Trade novations attempted",
	}, []string{"result"})

	// LiquidationsTotal counts forced liquidations.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outcomex_liquidations_total",
		Help: "Margin liquidations executed",
	})

	// ActiveMarkets tracks books currently open for trading.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outcomex_active_markets",
		Help: "Number of markets open for trading",
	})

	// OrderLatency tracks the full processOrder pipeline latency.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outcomex_order_latency_seconds",
		Help:    "Order pipeline latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outcomex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outcomex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics. Uses the route pattern for the path
// label to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
