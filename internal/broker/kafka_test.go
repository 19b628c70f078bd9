package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"marketplace-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMessageDropsHandlerFailures(t *testing.T) {
	calls := 0
	handler := func(ctx context.Context, msg kafka.Message) error {
		calls++
		return errors.New("delivery channel down")
	}

	// The failure is logged, not propagated, so the consume loop commits
	// the offset and moves on.
	assert.NotPanics(t, func() {
		processMessage(context.Background(), kafka.Message{Offset: 42}, handler)
	})
	assert.Equal(t, 1, calls)
}

func TestDecodeIntent(t *testing.T) {
	intent := models.NotificationIntent{
		EventID:       "evt-1",
		RecipientRole: models.RecipientSeller,
		OrderID:       7,
		Template:      models.TemplateWithdrawalCompleted,
	}
	value, err := json.Marshal(intent)
	require.NoError(t, err)

	got, err := DecodeIntent(kafka.Message{Value: value})
	require.NoError(t, err)
	assert.Equal(t, intent.EventID, got.EventID)
	assert.Equal(t, intent.RecipientRole, got.RecipientRole)
	assert.Equal(t, intent.OrderID, got.OrderID)

	_, err = DecodeIntent(kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
