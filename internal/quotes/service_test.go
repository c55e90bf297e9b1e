package quotes

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db"
	"github.com/quoteflow-io/quoteflow-backend/pkg/db/models"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
	"github.com/quoteflow-io/quoteflow-backend/pkg/outbox"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "quotes-test", Output: io.Discard})
}

func setupQuoteService(t *testing.T) Service {
	t.Helper()
	setupQuotesTestDB(t)

	client, err := db.New(context.Background(), config.DBConfig{
		Driver: "sqlite",
		DSN:    "file::memory:?cache=shared",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logg := testLogger()
	outboxer := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	svc, err := NewService(NewRepository(client.DB()), client, outboxer, logg)
	require.NoError(t, err)
	return svc
}

func submitInput() SubmitQuoteInput {
	return SubmitQuoteInput{
		Source:       "email",
		ClientRef:    "REQ-2044",
		CustomerName: "Ateliers Brunel",
		Lines: []SubmitLineInput{
			{ItemCode: "VIS-M8-100", Quantity: 10},
			{Description: "joint torique 25mm", Quantity: 4},
		},
	}
}

func TestServiceSubmitCreatesDraftAndOutboxEvent(t *testing.T) {
	svc := setupQuoteService(t)

	draft, created, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, enums.StateReceived, draft.State)
	require.Len(t, draft.LineItems, 2)
	require.Equal(t, enums.LineItemOriginCatalog, draft.LineItems[0].Origin)
	require.Equal(t, enums.LineItemOriginRequester, draft.LineItems[1].Origin)

	loaded, err := svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, draft.ID, loaded.ID)

	client, err := db.New(context.Background(), config.DBConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	var events []models.OutboxEvent
	require.NoError(t, client.DB().Where("event_type = ?", enums.EventQuoteReceived).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.AggregateQuoteDraft, events[0].AggregateType)
	require.Equal(t, draft.ID, events[0].AggregateID)
}

func TestServiceSubmitIsIdempotentOnSourceRef(t *testing.T) {
	svc := setupQuoteService(t)

	first, created, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	require.True(t, created)

	second, createdAgain, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	require.False(t, createdAgain)
	require.Equal(t, first.ID, second.ID)
}

func TestServiceSubmitValidation(t *testing.T) {
	svc := setupQuoteService(t)

	cases := []struct {
		name   string
		mutate func(*SubmitQuoteInput)
	}{
		{name: "missing source", mutate: func(in *SubmitQuoteInput) { in.Source = "" }},
		{name: "missing client ref", mutate: func(in *SubmitQuoteInput) { in.ClientRef = "" }},
		{name: "no customer identity", mutate: func(in *SubmitQuoteInput) {
			in.CustomerName = ""
			in.CustomerEmail = ""
		}},
		{name: "no lines", mutate: func(in *SubmitQuoteInput) { in.Lines = nil }},
		{name: "zero quantity", mutate: func(in *SubmitQuoteInput) { in.Lines[0].Quantity = 0 }},
		{name: "empty line", mutate: func(in *SubmitQuoteInput) {
			in.Lines[0].ItemCode = ""
			in.Lines[0].Description = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := submitInput()
			tc.mutate(&input)
			_, _, err := svc.Submit(context.Background(), input)
			require.Error(t, err)
			require.Equal(t, errors.CodeValidation, errors.As(err).Code())
		})
	}
}

func TestServiceGetUnknownQuote(t *testing.T) {
	svc := setupQuoteService(t)

	_, err := svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	require.Equal(t, errors.CodeNotFound, errors.As(err).Code())
}
