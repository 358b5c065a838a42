package ledger

import (
	"errors"

	"gorm.io/gorm"
)

// Store is the durable backend for wallets and ledger entries. The gorm
// Database is the production implementation; tests may use the in-memory
// store.
type Store interface {
	SaveWallet(wallet *Wallet) error
	AppendEntry(entry *Entry) error
	GetEntries(agentID string) ([]Entry, error)
	GetEntriesByReference(referenceID string) ([]Entry, error)
}

// Database is the gorm-backed Store.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a gorm connection as a ledger store.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveWallet upserts the wallet row keyed by agent ID.
func (d *Database) SaveWallet(wallet *Wallet) error {
	var existing Wallet
	err := d.db.Where("agent_id = ?", wallet.AgentID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(wallet).Error
	}
	if err != nil {
		return err
	}
	existing.Available = wallet.Available
	existing.Locked = wallet.Locked
	existing.UpdatedAt = wallet.UpdatedAt
	return d.db.Save(&existing).Error
}

// AppendEntry writes one immutable audit row.
func (d *Database) AppendEntry(entry *Entry) error {
	return d.db.Create(entry).Error
}

// GetEntries returns all entries for an agent, oldest first.
func (d *Database) GetEntries(agentID string) ([]Entry, error) {
	var entries []Entry
	err := d.db.Where("agent_id = ?", agentID).Order("id asc").Find(&entries).Error
	return entries, err
}

// GetEntriesByReference returns all entries tied to one order, trade or
// novation reference.
func (d *Database) GetEntriesByReference(referenceID string) ([]Entry, error) {
	var entries []Entry
	err := d.db.Where("reference_id = ?", referenceID).Order("id asc").Find(&entries).Error
	return entries, err
}

// MemoryStore is a Store for tests: appends are kept in slices, wallet
// saves in a map.
type MemoryStore struct {
	wallets map[string]Wallet
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]Wallet)}
}

func (m *MemoryStore) SaveWallet(wallet *Wallet) error {
	m.wallets[wallet.AgentID] = *wallet
	return nil
}

func (m *MemoryStore) AppendEntry(entry *Entry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MemoryStore) GetEntries(agentID string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetEntriesByReference(referenceID string) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}
