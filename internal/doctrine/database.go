package doctrine

import (
	"gorm.io/gorm"

	"github.com/ksred/outcomex/internal/types"
)

// Store persists the append-only violation audit log.
type Store interface {
	AppendViolation(v *types.Violation) error
	GetViolations(agentID string) ([]types.Violation, error)
}

// Database is the gorm-backed Store.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a gorm connection as a doctrine store.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// AppendViolation writes one audit row. Violations are never mutated.
func (d *Database) AppendViolation(v *types.Violation) error {
	return d.db.Create(v).Error
}

// GetViolations returns all violations recorded for an agent, oldest
// first.
func (d *Database) GetViolations(agentID string) ([]types.Violation, error) {
	var violations []types.Violation
	err := d.db.Where("agent_id = ?", agentID).Order("id asc").Find(&violations).Error
	return violations, err
}

// MemoryStore is a Store for tests.
type MemoryStore struct {
	violations []types.Violation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendViolation(v *types.Violation) error {
	m.violations = append(m.violations, *v)
	return nil
}

func (m *MemoryStore) GetViolations(agentID string) ([]types.Violation, error) {
	var out []types.Violation
	for _, v := range m.violations {
		if v.AgentID == agentID {
			out = append(out, v)
		}
	}
	return out, nil
}
