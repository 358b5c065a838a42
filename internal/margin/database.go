package margin

import (
	"time"

	"gorm.io/gorm"
)

// Store persists novation and liquidation records.
type Store interface {
	CreateNovation(n *Novation) error
	MarkNovationsSettled(marketID string) error
	MarkNovationsDefaulted(agentID string) error
	GetNovations(agentID string) ([]Novation, error)
	CreateLiquidation(l *Liquidation) error
	GetLiquidations(agentID string) ([]Liquidation, error)
}

// Database is the gorm-backed Store.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a gorm connection as a margin store.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateNovation(n *Novation) error {
	return d.db.Create(n).Error
}

// MarkNovationsSettled advances all cleared novations in a resolved
// market to settled.
func (d *Database) MarkNovationsSettled(marketID string) error {
	return d.db.Model(&Novation{}).
		Where("market_id = ? AND status = ?", marketID, NovationCleared).
		Updates(map[string]interface{}{"status": NovationSettled, "updated_at": time.Now()}).Error
}

// MarkNovationsDefaulted advances an insolvent agent's cleared novations
// to defaulted.
func (d *Database) MarkNovationsDefaulted(agentID string) error {
	return d.db.Model(&Novation{}).
		Where("(buyer_id = ? OR seller_id = ?) AND status = ?", agentID, agentID, NovationCleared).
		Updates(map[string]interface{}{"status": NovationDefaulted, "updated_at": time.Now()}).Error
}

func (d *Database) GetNovations(agentID string) ([]Novation, error) {
	var novations []Novation
	err := d.db.Where("buyer_id = ? OR seller_id = ?", agentID, agentID).
		Order("id asc").Find(&novations).Error
	return novations, err
}

func (d *Database) CreateLiquidation(l *Liquidation) error {
	return d.db.Create(l).Error
}

func (d *Database) GetLiquidations(agentID string) ([]Liquidation, error) {
	var liquidations []Liquidation
	err := d.db.Where("agent_id = ?", agentID).Order("id asc").Find(&liquidations).Error
	return liquidations, err
}

// MemoryStore is a Store for tests.
type MemoryStore struct {
	novations    []Novation
	liquidations []Liquidation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) CreateNovation(n *Novation) error {
	m.novations = append(m.novations, *n)
	return nil
}

func (m *MemoryStore) MarkNovationsSettled(marketID string) error {
	for i := range m.novations {
		if m.novations[i].MarketID == marketID && m.novations[i].Status == NovationCleared {
			m.novations[i].Status = NovationSettled
		}
	}
	return nil
}

func (m *MemoryStore) MarkNovationsDefaulted(agentID string) error {
	for i := range m.novations {
		n := &m.novations[i]
		if (n.BuyerID == agentID || n.SellerID == agentID) && n.Status == NovationCleared {
			n.Status = NovationDefaulted
		}
	}
	return nil
}

func (m *MemoryStore) GetNovations(agentID string) ([]Novation, error) {
	var out []Novation
	for _, n := range m.novations {
		if n.BuyerID == agentID || n.SellerID == agentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateLiquidation(l *Liquidation) error {
	m.liquidations = append(m.liquidations, *l)
	return nil
}

func (m *MemoryStore) GetLiquidations(agentID string) ([]Liquidation, error) {
	var out []Liquidation
	for _, l := range m.liquidations {
		if l.AgentID == agentID {
			out = append(out, l)
		}
	}
	return out, nil
}
