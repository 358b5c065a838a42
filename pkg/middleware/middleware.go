// Package middleware provides JWT authentication and per-client rate
// limiting for the HTTP surface.
package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/ksred/outcomex/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	tradingLimit = rate.Limit(600.0 / 60.0)  // 600 requests per minute
	statusLimit  = rate.Limit(1000.0 / 60.0) // 1000 requests per minute

	signingKey   = []byte("outcomex-dev-secret")
	signingKeyMu sync.RWMutex
)

// SetSigningKey installs the HMAC secret used to verify tokens. Called
// once at startup from configuration.
func SetSigningKey(secret string) {
	signingKeyMu.Lock()
	defer signingKeyMu.Unlock()
	signingKey = []byte(secret)
}

func currentSigningKey() []byte {
	signingKeyMu.RLock()
	defer signingKeyMu.RUnlock()
	return signingKey
}

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, agentID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := agentID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/orders"):
			limit = tradingLimit
		case strings.HasPrefix(path, "/api/v1/markets"):
			limit = statusLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5), // small burst
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles requests per (agent, route), falling back to the
// client IP before authentication.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")
		if agentID == "" {
			agentID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), agentID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and scopes the request to the agent
// named in its claims.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID, claims, err := validateAndExtractToken(c)
		if err != nil {
			return
		}

		for key, value := range claims {
			c.Set(key, value)
		}
		c.Set("claims", claims)
		c.Set("agentID", agentID)

		c.Next()
	}
}

// InternalAuth guards the operator surface. Tokens must carry an admin
// scope in addition to the agent identity.
func InternalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID, claims, err := validateAndExtractToken(c)
		if err != nil {
			return
		}

		scope, _ := claims["scope"].(string)
		if scope != "admin" {
			response.Forbidden(c, "Admin scope required")
			c.Abort()
			return
		}

		c.Set("agentID", agentID)
		c.Next()
	}
}

func validateAndExtractToken(c *gin.Context) (string, jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return "", nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return "", nil, fmt.Errorf("invalid authorization header format")
	}

	tokenString := bearerToken[1]
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return currentSigningKey(), nil
	})

	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return "", nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return "", nil, fmt.Errorf("invalid token claims")
	}

	for _, claim := range []string{"agent_id", "exp"} {
		if _, exists := claims[claim]; !exists {
			response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", claim))
			c.Abort()
			return "", nil, fmt.Errorf("missing claim %s", claim)
		}
	}

	agentID, ok := claims["agent_id"].(string)
	if !ok {
		response.Unauthorized(c, "Invalid agent ID in token")
		c.Abort()
		return "", nil, fmt.Errorf("invalid agent ID in token")
	}

	return agentID, claims, nil
}
