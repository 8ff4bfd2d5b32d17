package entitlement

import "fmt"

// transactionInfo is the subset of an Apple signedTransactionInfo /
// verify-purchase JWS payload the processor needs.
type transactionInfo struct {
	OriginalTransactionID string
	TransactionID         string
	ProductID             string
	PurchaseDateMs        int64
	ExpiresDateMs         *int64
	Environment           string
	BundleID              string
	AppAppleID            int64
}

func parseTransactionInfo(payload map[string]any) (*transactionInfo, error) {
	t := &transactionInfo{
		OriginalTransactionID: firstString(payload, "originalTransactionId", "originalTransactionID"),
		TransactionID:         firstString(payload, "transactionId", "transactionID"),
		ProductID:             firstString(payload, "productId", "productID"),
		Environment:           firstString(payload, "environment"),
		BundleID:              firstString(payload, "bundleId", "bundleID"),
	}
	t.PurchaseDateMs, _ = firstInt64(payload, "purchaseDate", "purchaseDateMs")
	if v, ok := firstInt64(payload, "expiresDate", "expiresDateMs"); ok {
		t.ExpiresDateMs = &v
	}
	if v, ok := firstInt64(payload, "appAppleId", "appAppleID"); ok {
		t.AppAppleID = v
	}

	if t.OriginalTransactionID == "" {
		return nil, fmt.Errorf("missing originalTransactionId")
	}
	if t.ProductID == "" {
		return nil, fmt.Errorf("missing productId")
	}
	return t, nil
}

// renewalInfo is the subset of a signedRenewalInfo payload the processor
// needs.
type renewalInfo struct {
	AutoRenewStatus        bool
	GracePeriodExpiresMs   *int64
	IsInBillingRetryPeriod bool
}

func parseRenewalInfo(payload map[string]any) *renewalInfo {
	r := &renewalInfo{}
	if v, ok := payload["autoRenewStatus"]; ok {
		if f, ok := v.(float64); ok {
			r.AutoRenewStatus = f != 0
		}
	}
	if v, ok := firstInt64(payload, "gracePeriodExpiresDate", "gracePeriodExpiresDateMs"); ok {
		r.GracePeriodExpiresMs = &v
	}
	if v, ok := payload["isInBillingRetryPeriod"].(bool); ok {
		r.IsInBillingRetryPeriod = v
	}
	return r
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// firstStringOrNumber handles fields like appAppleId that Apple sometimes
// encodes as a JSON number and sometimes as a numeric string.
func firstStringOrNumber(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case string:
			return n
		case float64:
			return fmt.Sprintf("%d", int64(n))
		}
	}
	return ""
}

func firstInt64(payload map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case int64:
			return n, true
		case string:
			// some payloads carry numeric strings; ignore parse errors and
			// keep looking at the remaining keys.
			continue
		}
	}
	return 0, false
}

func maxInt64Ptr(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}
