// Package auth issues and validates the JWT tokens that scope every
// trading request to one agent.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ksred/outcomex/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id"`
	Scope   string `json:"scope"`
}

type registration struct {
	apiSecret string
	agentID   string
	admin     bool
}

// Service handles authentication and authorization operations
type Service struct {
	jwtSecret []byte

	mu sync.RWMutex
	// In a real implementation, this would be replaced with a database
	credentials map[string]registration // keyed by API key
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		credentials: make(map[string]registration),
	}
}

// RegisterAgent installs API credentials for an agent. Admin credentials
// additionally unlock the internal operator surface.
func (s *Service) RegisterAgent(agentID, apiKey, apiSecret string, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[apiKey] = registration{
		apiSecret: apiSecret,
		agentID:   agentID,
		admin:     admin,
	}
}

// GenerateToken generates a JWT token for valid API credentials. The token
// carries the agent identity and expires after 24 hours.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	s.mu.RLock()
	reg, exists := s.credentials[creds.APIKey]
	s.mu.RUnlock()
	if !exists || reg.apiSecret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)

	scope := "trade"
	if reg.admin {
		scope = "admin"
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		AgentID: reg.agentID,
		Scope:   scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to exchange API credentials
// for a JWT token.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if err == ErrInvalidCredentials {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetAgentID extracts the agent ID from JWT claims. Returns empty string
// if missing.
func GetAgentID(claims interface{}) string {
	if jwtClaims, ok := claims.(jwt.MapClaims); ok {
		if agentID, ok := jwtClaims["agent_id"].(string); ok {
			return agentID
		}
	}
	return ""
}
