package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	createdAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	order := sampleOrder("timeline-order", "user-timeline", createdAt)
	require.NoError(t, store.Repositories().Orders.Create(ctx, order))

	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.EventOrderPlaced,
		Reason:   "placed",
		Occurred: createdAt,
	}))
	// нулевое время заполняется текущим
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    domain.EventPaymentCaptured,
	}))

	events, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderPlaced, events[0].Type)
	assert.Equal(t, domain.EventPaymentCaptured, events[1].Type)
	assert.False(t, events[1].Occurred.IsZero())
}

func TestTimelineRepository_PostgresMissingOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	err := timeline.Append(ctx, domain.TimelineEvent{OrderID: "missing-order", Type: domain.EventOrderPlaced})
	assert.Error(t, err, "foreign key must reject events for unknown orders")

	events, err := timeline.List(ctx, "missing-order")
	require.NoError(t, err)
	assert.Empty(t, events)
}
