// Package database initializes the sqlite-backed gorm connection and
// migrates the venue schema.
package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/margin"
	"github.com/ksred/outcomex/internal/types"
)

// NewDatabase opens the database at path and migrates all schemas.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Order{},
		&types.Trade{},
		&types.Violation{},
		&ledger.Wallet{},
		&ledger.Entry{},
		&margin.Novation{},
		&margin.Liquidation{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
