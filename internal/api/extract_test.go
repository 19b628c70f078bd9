package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	payload, ok := parsePayload([]byte(body))
	require.True(t, ok)
	return payload
}

func TestExtractReferenceHonorsFieldOrder(t *testing.T) {
	// transaction_id outranks the generic reference field.
	payload := mustParse(t, `{"reference":"generic","transaction_id":"MPE123"}`)
	ref, ok := extractReference(payload)
	require.True(t, ok)
	assert.Equal(t, "MPE123", ref)

	// Provider-specific names each work on their own.
	for _, body := range []string{
		`{"mpesa_reference":"MPE9"}`,
		`{"checkout_id":"MPE9"}`,
		`{"invoice_id":"MPE9"}`,
		`{"tracking_id":"MPE9"}`,
	} {
		ref, ok := extractReference(mustParse(t, body))
		require.True(t, ok, body)
		assert.Equal(t, "MPE9", ref)
	}
}

func TestExtractReferenceSkipsBlankValues(t *testing.T) {
	payload := mustParse(t, `{"transaction_id":"  ","reference":"REF1"}`)
	ref, ok := extractReference(payload)
	require.True(t, ok)
	assert.Equal(t, "REF1", ref)

	_, ok = extractReference(mustParse(t, `{"transaction_id":""}`))
	assert.False(t, ok)

	// A numeric reference is not accepted; matching needs the exact string.
	_, ok = extractReference(mustParse(t, `{"transaction_id":12345}`))
	assert.False(t, ok)
}

func TestExtractAmountHandlesNumberAndString(t *testing.T) {
	amount, ok := extractAmount(mustParse(t, `{"amount":150000}`))
	require.True(t, ok)
	assert.Equal(t, int64(150000), amount)

	amount, ok = extractAmount(mustParse(t, `{"amount":"150000"}`))
	require.True(t, ok)
	assert.Equal(t, int64(150000), amount)

	_, ok = extractAmount(mustParse(t, `{"amount":"a lot"}`))
	assert.False(t, ok)
}

func TestExtractTimestampHandlesRFC3339AndEpoch(t *testing.T) {
	ts, ok := extractTimestamp(mustParse(t, `{"timestamp":"2026-08-26T10:00:00Z"}`))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), ts.UTC())

	ts, ok = extractTimestamp(mustParse(t, `{"created_at":1787133600}`))
	require.True(t, ok)
	assert.Equal(t, int64(1787133600), ts.Unix())

	_, ok = extractTimestamp(mustParse(t, `{"timestamp":"yesterday"}`))
	assert.False(t, ok)
}

func TestBuildNotificationNormalizesFields(t *testing.T) {
	payload := mustParse(t, `{
		"transaction_id": "MPE123",
		"merchant_reference": "api-ref-1",
		"status": "COMPLETED",
		"amount": 150000,
		"msisdn": "+254700111222",
		"provider": "mpesa"
	}`)

	n, err := buildNotification(payload)
	require.NoError(t, err)

	assert.Equal(t, "MPE123", n.Reference)
	assert.Equal(t, "api-ref-1", n.APIRef)
	assert.Equal(t, "COMPLETED", n.Status)
	assert.Equal(t, int64(150000), n.Amount)
	assert.Equal(t, "+254700111222", n.Phone)
	assert.Equal(t, "mpesa", n.Provider)
	assert.NotEmpty(t, n.Raw)
}

func TestBuildNotificationRequiresStatus(t *testing.T) {
	_, err := buildNotification(mustParse(t, `{"transaction_id":"MPE123"}`))
	assert.Error(t, err)
}
