package reconcile

import (
	"encoding/json"
	"strings"
)

// maskedKeys hold instrument or personal details that must not reach the
// payment-event ledger.
var maskedKeys = map[string]struct{}{
	"card":            {},
	"bank_account":    {},
	"vpa":             {},
	"contact":         {},
	"email":           {},
	"billing_address": {},
	"token_id":        {},
	"acquirer_data":   {},
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		if _, ok := maskedKeys[strings.ToLower(k)]; ok {
			if v != nil {
				m[k] = "***"
			}
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			maskMap(nested)
		case []any:
			for _, item := range nested {
				if itemMap, ok := item.(map[string]any); ok {
					maskMap(itemMap)
				}
			}
		}
	}
}
