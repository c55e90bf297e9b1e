package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

const (
	defaultExpiryBatch = 100
)

type validationExpirer interface {
	ExpirePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.ValidationRequest, error)
}

type draftRejecter interface {
	RejectExpired(ctx context.Context, quoteID uuid.UUID) error
}

// ValidationExpiryJobParams configure the stale validation sweep.
type ValidationExpiryJobParams struct {
	Logger      *logger.Logger
	Validations validationExpirer
	Workflow    draftRejecter
	PendingTTL  time.Duration
	BatchSize   int
}

// NewValidationExpiryJob builds the job that closes validation requests whose
// decision window lapsed and rejects the drafts they were holding.
func NewValidationExpiryJob(params ValidationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Validations == nil {
		return nil, fmt.Errorf("validation service required")
	}
	if params.Workflow == nil {
		return nil, fmt.Errorf("workflow engine required")
	}
	if params.PendingTTL <= 0 {
		return nil, fmt.Errorf("pending ttl must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &validationExpiryJob{
		logg:        params.Logger,
		validations: params.Validations,
		workflow:    params.Workflow,
		pendingTTL:  params.PendingTTL,
		batchSize:   batch,
	}, nil
}

type validationExpiryJob struct {
	logg        *logger.Logger
	validations validationExpirer
	workflow    draftRejecter
	pendingTTL  time.Duration
	batchSize   int
}

func (j *validationExpiryJob) Name() string { return "validation-expiry" }

func (j *validationExpiryJob) Run(ctx context.Context) error {
	expired, err := j.validations.ExpirePending(ctx, j.pendingTTL, j.batchSize)
	if err != nil {
		return fmt.Errorf("expire pending validations: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	var rejectErrs error
	rejected := 0
	for _, request := range expired {
		if err := j.workflow.RejectExpired(ctx, request.QuoteID); err != nil {
			rejectErrs = multierr.Append(rejectErrs,
				fmt.Errorf("reject quote %s: %w", request.QuoteID, err))
			continue
		}
		rejected++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired":  len(expired),
		"rejected": rejected,
		"ttl":      j.pendingTTL.String(),
	})
	j.logg.Info(logCtx, "stale validation sweep complete")
	return rejectErrs
}
