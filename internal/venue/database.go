package venue

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/outcomex/internal/types"
)

// Store persists orders and trades.
type Store interface {
	SaveOrder(o *types.Order) error
	GetOrder(orderID string) (*types.Order, error)
	GetOrdersByAgent(agentID string) ([]types.Order, error)
	SaveTrade(t *types.Trade) error
	GetTrades(marketID string) ([]types.Trade, error)
	GetTradesByAgent(agentID string) ([]types.Trade, error)
}

// Database is the gorm-backed Store.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a gorm connection as a venue store.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveOrder upserts the order row keyed by its order ID. Orders are
// written at every status transition, so the row always reflects the
// latest state.
func (d *Database) SaveOrder(o *types.Order) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(o).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrdersByAgent(agentID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("agent_id = ?", agentID).Order("id desc").Find(&orders).Error
	return orders, err
}

func (d *Database) SaveTrade(t *types.Trade) error {
	return d.db.Create(t).Error
}

func (d *Database) GetTrades(marketID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("market_id = ?", marketID).Order("id asc").Find(&trades).Error
	return trades, err
}

func (d *Database) GetTradesByAgent(agentID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("buyer_id = ? OR seller_id = ?", agentID, agentID).
		Order("id asc").Find(&trades).Error
	return trades, err
}

// MemoryStore is a Store for tests.
type MemoryStore struct {
	orders map[string]types.Order
	trades []types.Trade
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]types.Order)}
}

func (m *MemoryStore) SaveOrder(o *types.Order) error {
	m.orders[o.OrderID] = *o
	return nil
}

func (m *MemoryStore) GetOrder(orderID string) (*types.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, types.ErrOrderNotFound
	}
	return &o, nil
}

func (m *MemoryStore) GetOrdersByAgent(agentID string) ([]types.Order, error) {
	var out []types.Order
	for _, o := range m.orders {
		if o.AgentID == agentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveTrade(t *types.Trade) error {
	m.trades = append(m.trades, *t)
	return nil
}

func (m *MemoryStore) GetTrades(marketID string) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range m.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTradesByAgent(agentID string) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range m.trades {
		if t.BuyerID == agentID || t.SellerID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}
