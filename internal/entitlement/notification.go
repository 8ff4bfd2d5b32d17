package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
)

// classification is the reduced lifecycle bucket a raw Apple
// notificationType maps to.
type classification string

const (
	classActive  classification = "active"
	classInRetry classification = "in_retry"
	classExpired classification = "expired"
	classRevoked classification = "revoked"
	classIgnore  classification = "ignore"
	classOther   classification = "other"
)

var notificationTypeClass = map[string]classification{
	"SUBSCRIBED":            classActive,
	"DID_RENEW":             classActive,
	"DID_RECOVER":           classActive,
	"INTERACTIVE_RENEWAL":   classActive,
	"RENEWAL_EXTENSION":     classActive,
	"RENEWAL_EXTENDED":      classActive,
	"REFUND_REVERSED":       classActive,
	"DID_FAIL_TO_RENEW":     classInRetry,
	"EXPIRED":               classExpired,
	"GRACE_PERIOD_EXPIRED":  classExpired,
	"REFUND":                classRevoked,
	"REVOKE":                classRevoked,
	"DID_CHANGE_RENEWAL_STATUS": classIgnore,
	"DID_CHANGE_RENEWAL_PREF":   classIgnore,
	"PRICE_INCREASE":            classIgnore,
	"OFFER_REDEEMED":            classIgnore,
	"CONSUMPTION_REQUEST":       classIgnore,
}

// purchaseEventTypes are the notificationTypes that earn a PurchaseEvent
// analytics row when a transactionID is present.
var purchaseEventTypes = map[string]bool{
	"SUBSCRIBED":          true,
	"DID_RENEW":           true,
	"DID_RECOVER":         true,
	"INTERACTIVE_RENEWAL": true,
}

func classify(notificationType string) classification {
	if c, ok := notificationTypeClass[notificationType]; ok {
		return c
	}
	return classOther
}

// ServerNotificationResult is the response body of the App Store Server
// Notification handler.
type ServerNotificationResult struct {
	NotificationType string
	IsVIP            bool
	VIPExpireTimeMs  *int64
	Duplicate        bool
	Stale            bool
}

// HandleServerNotification implements 12-step
// procedure.
func (p *Processor) HandleServerNotification(ctx context.Context, signedPayload string) (*ServerNotificationResult, error) {
	envelope, err := p.verifier.Verify(signedPayload)
	if err != nil {
		return nil, err
	}

	notificationType := firstString(envelope, "notificationType")
	notificationUUID := firstString(envelope, "notificationUUID")
	subtype := firstString(envelope, "subtype")
	if notificationType == "" || notificationUUID == "" {
		return nil, apperr.Validation("notification missing notificationType or notificationUUID")
	}

	seen, err := p.store.NotificationSeen(ctx, notificationUUID)
	if err != nil {
		return nil, err
	}
	if seen {
		return &ServerNotificationResult{NotificationType: notificationType, Duplicate: true}, nil
	}

	if notificationType == "TEST" {
		if err := p.logNotification(ctx, notificationUUID, notificationType, subtype, signedPayload); err != nil {
			return nil, err
		}
		return &ServerNotificationResult{NotificationType: notificationType}, nil
	}

	data, _ := envelope["data"].(map[string]any)
	if data == nil {
		return nil, apperr.Validation("notification missing data object")
	}
	if err := p.validateAppIdentity(data); err != nil {
		return nil, err
	}

	var txn *transactionInfo
	var renewal *renewalInfo
	if signedTxn := firstString(data, "signedTransactionInfo"); signedTxn != "" {
		txnPayload, err := p.verifier.Verify(signedTxn)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid signedTransactionInfo", err)
		}
		txn, err = parseTransactionInfo(txnPayload)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid transaction info", err)
		}
	}
	if signedRenewal := firstString(data, "signedRenewalInfo"); signedRenewal != "" {
		renewalPayload, err := p.verifier.Verify(signedRenewal)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid signedRenewalInfo", err)
		}
		renewal = parseRenewalInfo(renewalPayload)
	}
	class := classify(notificationType)
	if class == classIgnore || class == classOther {
		if err := p.logNotification(ctx, notificationUUID, notificationType, subtype, signedPayload); err != nil {
			return nil, err
		}
		return &ServerNotificationResult{NotificationType: notificationType}, nil
	}

	if txn == nil {
		return nil, apperr.Validation("notification missing signedTransactionInfo")
	}

	var gracePeriodExpire *int64
	if renewal != nil {
		gracePeriodExpire = renewal.GracePeriodExpiresMs
	}
	effectiveExpire := maxInt64Ptr(txn.ExpiresDateMs, gracePeriodExpire)

	existing, err := p.store.GetPurchaseRecord(ctx, txn.OriginalTransactionID)
	recordExists := true
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		recordExists = false
	}

	if recordExists && (class == classExpired || class == classInRetry) && existing.ExpireDateMs != nil && effectiveExpire != nil && *effectiveExpire < *existing.ExpireDateMs {
		slog.Info("entitlement: stale notification, skipping state mutation",
			"originalTransactionID", txn.OriginalTransactionID, "notificationType", notificationType)
		if err := p.logNotification(ctx, notificationUUID, notificationType, subtype, signedPayload); err != nil {
			return nil, err
		}
		isVIP := existing.Status == model.StatusActive || existing.Status == model.StatusInRetry
		return &ServerNotificationResult{NotificationType: notificationType, IsVIP: isVIP, VIPExpireTimeMs: existing.ExpireDateMs, Stale: true}, nil
	}

	pr := &model.PurchaseRecord{
		OriginalTransactionID: txn.OriginalTransactionID,
		ProductID:             txn.ProductID,
		PurchaseDateMs:        txn.PurchaseDateMs,
		ExpireDateMs:          effectiveExpire,
		Environment:           model.Environment(txn.Environment),
	}
	switch class {
	case classActive:
		pr.Status = model.StatusActive
	case classInRetry:
		pr.Status = model.StatusInRetry
	case classExpired:
		pr.Status = model.StatusExpired
	case classRevoked:
		pr.Status = model.StatusRevoked
	}
	if recordExists {
		pr.DeviceCount = existing.DeviceCount
		if (class == classActive || class == classInRetry) && existing.ExpireDateMs != nil {
			pr.ExpireDateMs = maxInt64Ptr(effectiveExpire, existing.ExpireDateMs)
		}
		if pr.Environment == "" {
			pr.Environment = existing.Environment
		}
	}
	if pr.Environment == "" {
		pr.Environment = model.EnvProduction
	}
	if err := p.store.UpsertPurchaseRecord(ctx, pr); err != nil {
		return nil, fmt.Errorf("upsert purchase record: %w", err)
	}

	isVIP := class == classActive || class == classInRetry
	users, err := p.store.UsersByOriginalTransactionID(ctx, txn.OriginalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		u.IsVIP = isVIP
		u.VIPExpireMs = effectiveExpire
		if err := p.store.UpsertUser(ctx, &u); err != nil {
			return nil, fmt.Errorf("upsert user: %w", err)
		}
	}

	if purchaseEventTypes[notificationType] {
		if txnID := txn.TransactionID; txnID != "" {
			if err := p.store.AppendPurchaseEvent(ctx, &model.PurchaseEvent{
				OriginalTransactionID: txn.OriginalTransactionID,
				TransactionID:         txnID,
				NotificationType:      notificationType,
			}); err != nil {
				return nil, fmt.Errorf("append purchase event: %w", err)
			}
		}
	}

	if err := p.logNotification(ctx, notificationUUID, notificationType, subtype, signedPayload); err != nil {
		return nil, err
	}

	return &ServerNotificationResult{
		NotificationType: notificationType,
		IsVIP:            isVIP,
		VIPExpireTimeMs:  effectiveExpire,
	}, nil
}

func (p *Processor) logNotification(ctx context.Context, uuid, notificationType, subtype, payload string) error {
	if err := p.store.AppendNotificationLog(ctx, &model.NotificationLog{
		NotificationUUID: uuid,
		NotificationType: notificationType,
		Subtype:          subtype,
		Payload:          payload,
	}); err != nil {
		if apperr.Is(err, apperr.KindDuplicate) {
			return nil
		}
		return fmt.Errorf("append notification log: %w", err)
	}
	return nil
}

func (p *Processor) validateAppIdentity(data map[string]any) error {
	bundleID := firstString(data, "bundleId", "bundleID")
	appAppleID := firstStringOrNumber(data, "appAppleId", "appAppleID")
	environment := firstString(data, "environment")

	if p.cfg.BundleID != "" && bundleID != "" && bundleID != p.cfg.BundleID {
		return apperr.Validation(fmt.Sprintf("bundleId mismatch: got %q want %q", bundleID, p.cfg.BundleID))
	}
	if p.cfg.AppAppleID != "" && appAppleID != "" && appAppleID != p.cfg.AppAppleID {
		return apperr.Validation(fmt.Sprintf("appAppleId mismatch: got %q want %q", appAppleID, p.cfg.AppAppleID))
	}
	if p.cfg.Environment != "" && environment != "" && environment != p.cfg.Environment {
		return apperr.Validation(fmt.Sprintf("environment mismatch: got %q want %q", environment, p.cfg.Environment))
	}
	return nil
}
