package validation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
)

// Repository manages persistence for validation requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.ValidationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ValidationRequest, error)
	FindPendingByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.ValidationRequest, error)
	Update(ctx context.Context, request *models.ValidationRequest) error
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ValidationRequest, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a validation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.ValidationRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ValidationRequest, error) {
	var request models.ValidationRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindPendingByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.ValidationRequest, error) {
	var request models.ValidationRequest
	err := r.db.WithContext(ctx).
		Where("quote_id = ? AND status = ?", quoteID, enums.ValidationStatusPending).
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Update(ctx context.Context, request *models.ValidationRequest) error {
	return r.db.WithContext(ctx).Save(request).Error
}

func (r *repository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ValidationRequest, error) {
	var requests []models.ValidationRequest
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.ValidationStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
