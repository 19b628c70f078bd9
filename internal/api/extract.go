package api

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Providers disagree on field names across products and API versions. Each
// list is ordered: the first populated field wins, so adding support for a
// new provider shape means appending a name, not touching match logic.
var (
	referenceFields = []string{
		"provider_reference",
		"transaction_id",
		"mpesa_reference",
		"checkout_id",
		"invoice_id",
		"tracking_id",
		"reference",
	}
	apiRefFields = []string{
		"api_ref",
		"merchant_reference",
		"account_reference",
	}
	statusFields    = []string{"status", "state", "result"}
	amountFields    = []string{"amount", "value", "net_amount"}
	phoneFields     = []string{"phone_number", "msisdn", "account"}
	timestampFields = []string{"timestamp", "created_at", "updated_at"}
	reasonFields    = []string{"failure_reason", "failed_reason", "reason"}
)

func parsePayload(body []byte) (map[string]interface{}, bool) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

func extractString(payload map[string]interface{}, fields []string) (string, bool) {
	for _, field := range fields {
		if raw, ok := payload[field]; ok {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

func extractReference(payload map[string]interface{}) (string, bool) {
	return extractString(payload, referenceFields)
}

func extractAPIRef(payload map[string]interface{}) (string, bool) {
	return extractString(payload, apiRefFields)
}

func extractStatus(payload map[string]interface{}) (string, bool) {
	return extractString(payload, statusFields)
}

func extractPhone(payload map[string]interface{}) (string, bool) {
	return extractString(payload, phoneFields)
}

func extractReason(payload map[string]interface{}) (string, bool) {
	return extractString(payload, reasonFields)
}

// extractAmount reads the payment amount in minor currency units. Providers
// send it as a JSON number or a numeric string.
func extractAmount(payload map[string]interface{}) (int64, bool) {
	for _, field := range amountFields {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
			if f, err := v.Float64(); err == nil {
				return int64(f), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// extractTimestamp reads the event time as RFC3339 or a unix epoch number.
func extractTimestamp(payload map[string]interface{}) (time.Time, bool) {
	for _, field := range timestampFields {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil && n > 0 {
				return time.Unix(n, 0), true
			}
		}
	}
	return time.Time{}, false
}
