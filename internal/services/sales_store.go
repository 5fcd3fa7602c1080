package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/slab-market/internal/logger"
	"github.com/codyseavey/slab-market/internal/metrics"
	"github.com/codyseavey/slab-market/internal/models"
)

// InsertResult reports how many sales of a batch were new
type InsertResult struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
}

// SalesStore persists sale records grouped by card fingerprint
type SalesStore struct {
	db *gorm.DB
}

func NewSalesStore(db *gorm.DB) *SalesStore {
	return &SalesStore{db: db}
}

// InsertSales stores the sales that are not already present for fingerprint.
// A sale is a duplicate when its (title, final price, sold date) matches a
// stored sale or an earlier sale in the same batch. Uniqueness violations
// from concurrent writers are treated as duplicates.
func (s *SalesStore) InsertSales(ctx context.Context, fingerprint string, sales []models.SaleRecord) (InsertResult, error) {
	if fingerprint == "" {
		return InsertResult{}, fmt.Errorf("%w: empty fingerprint", ErrValidation)
	}
	if len(sales) == 0 {
		return InsertResult{}, nil
	}

	candidates := make([]models.SaleRecord, len(sales))
	titles := make([]string, 0, len(sales))
	for i, sale := range sales {
		sale.Fingerprint = fingerprint
		sale.Title = strings.TrimSpace(sale.Title)
		sale.SoldAt = models.NormalizeSoldAt(sale.SoldAt)
		if sale.TotalPrice == 0 {
			sale.TotalPrice = sale.FinalPrice + sale.Shipping
		}
		candidates[i] = sale
		titles = append(titles, sale.Title)
	}

	var result InsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.SaleRecord
		if err := tx.Select("title", "final_price", "sold_at").
			Where("fingerprint = ? AND title IN ?", fingerprint, titles).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to load existing sales: %w", err)
		}

		seen := make(map[string]bool, len(existing)+len(sales))
		for i := range existing {
			seen[existing[i].IdentityKey()] = true
		}

		fresh := make([]models.SaleRecord, 0, len(candidates))
		for _, sale := range candidates {
			key := sale.IdentityKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			fresh = append(fresh, sale)
		}

		if len(fresh) == 0 {
			return nil
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return fmt.Errorf("failed to insert sales: %w", res.Error)
		}
		result.Saved = int(res.RowsAffected)
		metrics.SalesInsertedTotal.WithLabelValues(string(fresh[0].FilterProvenance)).Add(float64(res.RowsAffected))
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}

	result.Duplicates = len(sales) - result.Saved
	if result.Duplicates > 0 {
		metrics.SalesDuplicatesTotal.Add(float64(result.Duplicates))
	}
	logger.DebugCtx(ctx, "Stored sales",
		zap.String("fingerprint", fingerprint),
		zap.Int("saved", result.Saved),
		zap.Int("duplicates", result.Duplicates))
	return result, nil
}

// GetSales returns every sale for fingerprint, newest first
func (s *SalesStore) GetSales(ctx context.Context, fingerprint string) ([]models.SaleRecord, error) {
	var sales []models.SaleRecord
	err := s.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("sold_at DESC, id DESC").
		Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	return sales, nil
}

// GetSalesBatch loads sales for several fingerprints in one query. Every
// requested fingerprint has an entry, empty when it has no sales.
func (s *SalesStore) GetSalesBatch(ctx context.Context, fingerprints []string) (map[string][]models.SaleRecord, error) {
	fingerprints = uniqueNonEmpty(fingerprints)
	result := make(map[string][]models.SaleRecord, len(fingerprints))
	if len(fingerprints) == 0 {
		return result, nil
	}

	var sales []models.SaleRecord
	err := s.db.WithContext(ctx).
		Where("fingerprint IN ?", fingerprints).
		Order("sold_at DESC, id DESC").
		Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales batch: %w", err)
	}

	for _, fp := range fingerprints {
		result[fp] = nil
	}
	for _, sale := range sales {
		result[sale.Fingerprint] = append(result[sale.Fingerprint], sale)
	}
	return result, nil
}

// CountSales returns the number of stored sales for fingerprint
func (s *SalesStore) CountSales(ctx context.Context, fingerprint string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SaleRecord{}).Where("fingerprint = ?", fingerprint).Count(&count).Error
	return count, err
}
