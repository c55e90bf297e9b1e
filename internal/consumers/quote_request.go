package consumers

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/quoteflow-io/quoteflow-backend/internal/quotes"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

const consumerName = "quote-request"

// quoteMessage is the parsed quote request published by the upstream intake
// pipeline. Lines carry either a catalog code or a free-form description.
type quoteMessage struct {
	Source        string `json:"source"`
	ClientRef     string `json:"client_ref"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Lines         []struct {
		ItemCode    string `json:"item_code"`
		Description string `json:"description"`
		Quantity    int    `json:"quantity"`
		Unit        string `json:"unit"`
	} `json:"lines"`
}

type submitter interface {
	Submit(ctx context.Context, input quotes.SubmitQuoteInput) (*models.QuoteDraft, bool, error)
}

type workflowRunner interface {
	Run(ctx context.Context, quoteID uuid.UUID) error
}

type idempotencyGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, messageID string) (bool, error)
	Delete(ctx context.Context, consumer string, messageID string) error
}

// QuoteRequestConsumer drains the inbound quote request subscription, persists
// each request as a draft and drives it through the workflow.
type QuoteRequestConsumer struct {
	quotes       submitter
	workflow     workflowRunner
	idempotency  idempotencyGuard
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewQuoteRequestConsumer wires the consumer.
func NewQuoteRequestConsumer(
	quoteSvc submitter,
	workflow workflowRunner,
	guard idempotencyGuard,
	subscription *pubsub.Subscriber,
	logg *logger.Logger,
) (*QuoteRequestConsumer, error) {
	if quoteSvc == nil {
		return nil, stdErrors.New("quote service is required")
	}
	if workflow == nil {
		return nil, stdErrors.New("workflow engine is required")
	}
	if guard == nil {
		return nil, stdErrors.New("idempotency guard is required")
	}
	if subscription == nil {
		return nil, stdErrors.New("quote request subscription is required")
	}
	if logg == nil {
		return nil, stdErrors.New("logger is required")
	}
	return &QuoteRequestConsumer{
		quotes:       quoteSvc,
		workflow:     workflow,
		idempotency:  guard,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *QuoteRequestConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *QuoteRequestConsumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	seen, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, msg.ID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if seen {
		c.logg.Info(logCtx, "message already processed")
		return processResult{ack: true}
	}

	var message quoteMessage
	if err := json.Unmarshal(msg.Data, &message); err != nil {
		c.logg.Error(logCtx, "failed to unmarshal quote request", err)
		return processResult{ack: true}
	}

	input := quotes.SubmitQuoteInput{
		Source:        message.Source,
		ClientRef:     message.ClientRef,
		CustomerName:  message.CustomerName,
		CustomerEmail: message.CustomerEmail,
	}
	for _, line := range message.Lines {
		input.Lines = append(input.Lines, quotes.SubmitLineInput{
			ItemCode:    line.ItemCode,
			Description: line.Description,
			Quantity:    line.Quantity,
			Unit:        line.Unit,
		})
	}

	draft, created, err := c.quotes.Submit(ctx, input)
	if err != nil {
		if appErr := errors.As(err); appErr != nil && appErr.Code() == errors.CodeValidation {
			c.logg.Error(logCtx, "dropping malformed quote request", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "failed to persist quote request", err)
		return c.retry(ctx, logCtx, msg.ID)
	}

	logCtx = c.logg.WithQuoteID(logCtx, draft.ID.String())
	if !created {
		c.logg.Info(logCtx, "quote request replayed, draft already exists")
	}

	if err := c.workflow.Run(ctx, draft.ID); err != nil {
		if appErr := errors.As(err); appErr != nil && appErr.Code() == errors.CodeStateConflict {
			// The draft already moved past received on an earlier delivery.
			c.logg.Info(logCtx, "draft already in progress")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "workflow run failed", err)
		return c.retry(ctx, logCtx, msg.ID)
	}

	c.logg.Info(logCtx, "quote request processed")
	return processResult{ack: true}
}

// retry clears the processed marker so the redelivered message is not dropped
// by the idempotency guard.
func (c *QuoteRequestConsumer) retry(ctx context.Context, logCtx context.Context, messageID string) processResult {
	if err := c.idempotency.Delete(ctx, consumerName, messageID); err != nil {
		c.logg.Error(logCtx, "failed to clear idempotency marker", err)
	}
	return processResult{nack: true}
}
