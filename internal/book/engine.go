package book

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ksred/outcomex/internal/types"
)

// Market lifecycle states.
const (
	MarketStatusActive   = "ACTIVE"
	MarketStatusResolved = "RESOLVED"
)

// Market holds the YES and NO books for one market. All mutation of
// either book, and of any order resting on them, happens under Mu.
// Markets are the parallelism boundary: distinct markets proceed
// concurrently, operations within one are serialized.
type Market struct {
	Mu      sync.Mutex
	ID      string
	Topic   string
	Status  string
	Yes     *Book
	No      *Book
	Version uint64 // bumped on every committed mutation
}

// BookFor returns the book for the given outcome token.
func (m *Market) BookFor(outcome types.Outcome) *Book {
	if outcome == types.OutcomeYes {
		return m.Yes
	}
	return m.No
}

// Active reports whether the market accepts orders. Requires Mu held.
func (m *Market) Active() bool {
	return m.Status == MarketStatusActive
}

// Engine is the registry of markets and their books.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

// NewEngine creates an empty market registry.
func NewEngine() *Engine {
	return &Engine{markets: make(map[string]*Market)}
}

// InitializeMarket creates empty YES/NO books for a new market. The topic
// feeds the governance gate's block/allow lists.
func (e *Engine) InitializeMarket(marketID, topic string) (*Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.markets[marketID]; exists {
		return nil, types.NewValidationError("market_id", "market already exists")
	}

	m := &Market{
		ID:     marketID,
		Topic:  topic,
		Status: MarketStatusActive,
		Yes:    NewBook(marketID, types.OutcomeYes),
		No:     NewBook(marketID, types.OutcomeNo),
	}
	e.markets[marketID] = m

	log.Info().
		Str("service", "book").
		Str("market_id", marketID).
		Str("topic", topic).
		Msg("market initialized")
	return m, nil
}

// Market returns the market by ID.
func (e *Engine) Market(marketID string) (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.markets[marketID]
	if !ok {
		return nil, types.ErrMarketNotFound
	}
	return m, nil
}

// Markets returns all registered markets.
func (e *Engine) Markets() []*Market {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m)
	}
	return out
}

// ActiveCount returns the number of markets open for trading.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, m := range e.markets {
		m.Mu.Lock()
		if m.Active() {
			n++
		}
		m.Mu.Unlock()
	}
	return n
}
