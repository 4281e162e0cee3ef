// internal/domain/inventory/service.go
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service serves product stock snapshots and maintains per-size breakdowns
type Service struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewService creates a new inventory service
func NewService(db *gorm.DB, log logrus.FieldLogger) *Service {
	return &Service{
		db:  db,
		log: log,
	}
}

// SetStockRequest represents an aggregate stock update
type SetStockRequest struct {
	CountInStock int      `json:"countInStock" binding:"min=0"`
	Sizes        []string `json:"sizes" binding:"required,min=1,unique,dive,required"`
}

// Batch returns snapshots for the given product ids in request order. Unknown
// or inactive products are left out rather than reported as errors.
func (s *Service) Batch(ctx context.Context, productIDs []string) ([]Snapshot, error) {
	if len(productIDs) == 0 {
		return []Snapshot{}, nil
	}

	var records []ProductStock
	err := s.db.WithContext(ctx).
		Where("product_id IN ? AND is_active = ?", productIDs, true).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve product stock: %w", err)
	}

	byID := make(map[string]*ProductStock, len(records))
	for i := range records {
		byID[records[i].ProductID] = &records[i]
	}

	snapshots := make([]Snapshot, 0, len(records))
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		record, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		snapshots = append(snapshots, record.Snapshot())
	}

	return snapshots, nil
}

// Single returns one product's snapshot or ErrProductNotFound
func (s *Service) Single(ctx context.Context, productID string) (Snapshot, error) {
	record, err := s.find(ctx, s.db, productID)
	if err != nil {
		return Snapshot{}, err
	}
	return record.Snapshot(), nil
}

// Product returns the active stock record for a product
func (s *Service) Product(ctx context.Context, productID string) (*ProductStock, error) {
	return s.find(ctx, s.db, productID)
}

// SetStock stores a new aggregate count and derives the per-size breakdown from it
func (s *Service) SetStock(ctx context.Context, productID string, req *SetStockRequest) (*ProductStock, error) {
	allocation, err := Allocate(req.CountInStock, req.Sizes)
	if err != nil {
		return nil, err
	}

	var record *ProductStock
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.find(ctx, tx, productID)
		if err != nil {
			return err
		}

		found.CountInStock = req.CountInStock
		found.Sizes = append([]string(nil), req.Sizes...)
		found.SizeInventory = string(EncodeSizeInventory(allocation))
		if err := tx.Save(found).Error; err != nil {
			return fmt.Errorf("failed to update product stock: %w", err)
		}
		record = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id":     productID,
		"count_in_stock": req.CountInStock,
		"sizes":          len(req.Sizes),
	}).Info("product stock allocated")

	return record, nil
}

// Repair rewrites the per-size breakdown only when it no longer matches the
// declared sizes and aggregate count
func (s *Service) Repair(ctx context.Context, productID string) (*ProductStock, bool, error) {
	var (
		record   *ProductStock
		repaired bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.find(ctx, tx, productID)
		if err != nil {
			return err
		}

		existing, _ := DecodeSizeInventory(rawSizeInventory(found.SizeInventory))
		allocation, changed, err := RepairIfNeeded(existing, found.CountInStock, found.Sizes)
		if err != nil {
			return err
		}

		record = found
		repaired = changed
		if !changed {
			return nil
		}

		found.SizeInventory = string(EncodeSizeInventory(allocation))
		if err := tx.Save(found).Error; err != nil {
			return fmt.Errorf("failed to save repaired stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if repaired {
		s.log.WithField("product_id", productID).Warn("size inventory replaced by even allocation")
	}

	return record, repaired, nil
}

func (s *Service) find(ctx context.Context, db *gorm.DB, productID string) (*ProductStock, error) {
	var record ProductStock
	err := db.WithContext(ctx).
		Where("product_id = ? AND is_active = ?", productID, true).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve product stock: %w", err)
	}
	return &record, nil
}
