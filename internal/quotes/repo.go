package quotes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// Repository manages persistence for quote drafts and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, draft *models.QuoteDraft) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.QuoteDraft, error)
	FindBySourceRef(ctx context.Context, source, clientRef string) (*models.QuoteDraft, error)
	Update(ctx context.Context, draft *models.QuoteDraft) error
	UpdateLineItem(ctx context.Context, item *models.QuoteLineItem) error
	ListByState(ctx context.Context, state enums.WorkflowState, limit int) ([]models.QuoteDraft, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quote repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, draft *models.QuoteDraft) error {
	return r.db.WithContext(ctx).Create(draft).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.QuoteDraft, error) {
	var draft models.QuoteDraft
	if err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("item_code ASC")
		}).
		First(&draft, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *repository) FindBySourceRef(ctx context.Context, source, clientRef string) (*models.QuoteDraft, error) {
	var draft models.QuoteDraft
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("source = ? AND client_ref = ?", source, clientRef).
		First(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *repository) Update(ctx context.Context, draft *models.QuoteDraft) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: false}).
		Omit("LineItems").
		Save(draft).Error
}

func (r *repository) UpdateLineItem(ctx context.Context, item *models.QuoteLineItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *repository) ListByState(ctx context.Context, state enums.WorkflowState, limit int) ([]models.QuoteDraft, error) {
	var drafts []models.QuoteDraft
	query := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}
