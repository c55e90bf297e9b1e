package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
)

// Repository manages persistence for the append-only pricing audit trail.
// Records are only ever inserted, never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateDecision(ctx context.Context, record *models.PricingDecisionRecord) error
	CreateTrace(ctx context.Context, record *models.DecisionTraceRecord) error
	ListDecisionsByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.PricingDecisionRecord, error)
	ListTracesByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.DecisionTraceRecord, error)
	MaxTraceSequence(ctx context.Context, quoteID uuid.UUID) (int, error)
	ListDecisionsCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.PricingDecisionRecord, error)
	ListTracesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.DecisionTraceRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateDecision(ctx context.Context, record *models.PricingDecisionRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) CreateTrace(ctx context.Context, record *models.DecisionTraceRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListDecisionsByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.PricingDecisionRecord, error) {
	var records []models.PricingDecisionRecord
	if err := r.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("created_at ASC, item_code ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListTracesByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.DecisionTraceRecord, error) {
	var records []models.DecisionTraceRecord
	if err := r.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("sequence ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) MaxTraceSequence(ctx context.Context, quoteID uuid.UUID) (int, error) {
	var max *int
	if err := r.db.WithContext(ctx).
		Model(&models.DecisionTraceRecord{}).
		Where("quote_id = ?", quoteID).
		Select("MAX(sequence)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *repository) ListDecisionsCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.PricingDecisionRecord, error) {
	var records []models.PricingDecisionRecord
	query := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListTracesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.DecisionTraceRecord, error) {
	var records []models.DecisionTraceRecord
	query := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
