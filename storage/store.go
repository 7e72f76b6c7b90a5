// Package storage persists payment requests and business records in the
// relational store backing the gateway.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chainpay/engine"
	"chainpay/models"
)

// Store implements the engine's persistence and wallet resolution contracts
// on top of gorm.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to postgres, runs migrations and returns the store.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}
	return New(db), nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Fallback for drivers without error translation.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

// Insert persists a new payment request with its line items. A duplicate id
// surfaces as engine.ErrConflict, never as an overwrite.
func (s *Store) Insert(ctx context.Context, req *models.PaymentRequest) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		if isDuplicateKey(err) {
			return engine.ErrConflict
		}
		return err
	}
	return nil
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(items *gorm.DB) *gorm.DB {
		return items.Order("position ASC")
	})
}

// GetByID fetches a request by id, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	err := withItems(s.db.WithContext(ctx)).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByBusiness returns a business's requests ordered by creation time
// descending, optionally narrowed by kind and status.
func (s *Store) ListByBusiness(ctx context.Context, businessID string, filter engine.ListFilter) ([]models.PaymentRequest, error) {
	q := withItems(s.db.WithContext(ctx)).Where("business_id = ?", businessID)
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var reqs []models.PaymentRequest
	if err := q.Order("created_at DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

const defaultSettledLimit = 10

// ListRecentSettled returns the most recently paid requests for a business,
// ordered by settlement time descending. Limit defaults to 10.
func (s *Store) ListRecentSettled(ctx context.Context, businessID string, kind models.RequestKind, limit int) ([]models.PaymentRequest, error) {
	if limit <= 0 {
		limit = defaultSettledLimit
	}
	q := withItems(s.db.WithContext(ctx)).
		Where("business_id = ? AND status = ?", businessID, models.StatusPaid)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var reqs []models.PaymentRequest
	if err := q.Order("settled_at DESC").Limit(limit).Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// UpdateSettlement applies a partial settlement update. Missing ids, and
// guarded updates whose Prior status no longer matches the row, are a silent
// no-op; callers needing a stronger guarantee re-read afterwards.
func (s *Store) UpdateSettlement(ctx context.Context, id string, update engine.SettlementUpdate) error {
	fields := map[string]interface{}{}
	if update.Status != "" {
		fields["status"] = update.Status
	}
	if update.SenderWallet != "" {
		fields["sender_wallet"] = update.SenderWallet
	}
	if update.SenderChain != "" {
		fields["sender_chain"] = update.SenderChain
	}
	if update.CustomerName != "" {
		fields["customer_name"] = update.CustomerName
	}
	if update.TransactionHash != "" {
		fields["transaction_hash"] = update.TransactionHash
	}
	if update.SettledAt != nil {
		fields["settled_at"] = update.SettledAt
	}
	if len(fields) == 0 {
		return nil
	}
	q := s.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Where("id = ?", id)
	if update.Prior != "" {
		q = q.Where("status = ?", update.Prior)
	}
	return q.Updates(fields).Error
}

// ListOverdue returns active requests whose deadline passed before cutoff,
// oldest deadline first, bounded by limit.
func (s *Store) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentRequest, error) {
	var reqs []models.PaymentRequest
	q := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.StatusActive, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// ResolveWallet looks up the wallet address for a business. Empty when the
// business does not exist.
func (s *Store) ResolveWallet(ctx context.Context, businessID string) (string, error) {
	var business models.Business
	err := s.db.WithContext(ctx).First(&business, "id = ?", businessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return business.WalletAddress, nil
}

// UpsertBusiness creates or refreshes a merchant record. Used by ops tooling
// and tests; the gateway itself never mutates businesses.
func (s *Store) UpsertBusiness(ctx context.Context, business *models.Business) error {
	return s.db.WithContext(ctx).Save(business).Error
}
