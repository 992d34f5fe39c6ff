package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixafacil/backend/internal/domain"
)

func TestRecordingPublisherKeepsOrder(t *testing.T) {
	var pub RecordingPublisher
	ctx := context.Background()

	require.NoError(t, pub.PublishSaleCompleted(ctx, domain.SaleCompletedEvent{SaleID: "s1"}))
	require.NoError(t, pub.PublishSaleCompleted(ctx, domain.SaleCompletedEvent{SaleID: "s2"}))

	got := pub.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].SaleID)
	assert.Equal(t, "s2", got[1].SaleID)
}

func TestSaleCompletedEventWireFormat(t *testing.T) {
	event := domain.SaleCompletedEvent{
		SaleID:      "sale_1",
		TenantID:    "loja",
		SellerID:    "vend",
		TotalCents:  2100,
		Installment: true,
		CreatedAt:   time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sale_id":"sale_1","tenant_id":"loja","seller_id":"vend","total_cents":2100,"installment":true,"created_at":"2025-01-10T15:00:00Z"}`, string(payload))
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishSaleCompleted(context.Background(), domain.SaleCompletedEvent{}))
}
