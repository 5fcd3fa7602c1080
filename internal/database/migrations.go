package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/slab-market/internal/logger"
)

// cleanupDuplicateSales removes duplicate sale_records rows before the unique
// identity index is added, keeping the first row inserted for each identity
func cleanupDuplicateSales(db *gorm.DB) error {
	if !db.Migrator().HasTable("sale_records") {
		return nil
	}

	result := db.Exec(`
		DELETE FROM sale_records
		WHERE id NOT IN (
			SELECT MIN(id)
			FROM sale_records
			GROUP BY fingerprint, title, final_price, sold_at
		)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		logger.Info("Cleaned up duplicate sale_records entries", zap.Int64("rows", result.RowsAffected))
	}
	return nil
}

// RunMigrations runs data fixes after schema changes. Safe to run repeatedly.
func RunMigrations(db *gorm.DB) error {
	if err := backfillTotalPrice(db); err != nil {
		return err
	}
	return backfillProvenance(db)
}

// backfillTotalPrice fills total_price for rows written before it was stored
func backfillTotalPrice(db *gorm.DB) error {
	result := db.Exec(`UPDATE sale_records SET total_price = final_price + shipping WHERE total_price IS NULL OR total_price = 0`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		logger.Info("Backfilled sale total prices", zap.Int64("rows", result.RowsAffected))
	}
	return nil
}

// backfillProvenance tags legacy marketplace sales as rule-filtered
func backfillProvenance(db *gorm.DB) error {
	result := db.Exec(`UPDATE sale_records SET filter_provenance = 'rules-only' WHERE filter_provenance IS NULL OR filter_provenance = ''`)
	if result.Error != nil {
		logger.Warn("Failed to backfill filter provenance", zap.Error(result.Error))
	}
	return nil
}
