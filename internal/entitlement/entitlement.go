// Package entitlement implements the Entitlement Processor: Apple
// verify-purchase handling, App Store Server Notification handling, and
// the Device Binder two-device policy.
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
	"cobblepod/internal/receipt"
)

// Config carries the Apple App Store identifiers verify-purchase and
// Server Notification handling validate incoming payloads against.
type Config struct {
	BundleID    string
	AppAppleID  string
	Environment string // "Production" or "Sandbox"
}

// Store is the subset of store.Store the processor depends on.
type Store interface {
	GetUserByDevice(ctx context.Context, deviceUUID string) (*model.User, error)
	UpsertUser(ctx context.Context, u *model.User) error
	GetPurchaseRecord(ctx context.Context, originalTransactionID string) (*model.PurchaseRecord, error)
	UpsertPurchaseRecord(ctx context.Context, pr *model.PurchaseRecord) error
	ListDeviceBindings(ctx context.Context, originalTransactionID string) ([]model.DeviceBinding, error)
	BindDevice(ctx context.Context, b *model.DeviceBinding) error
	UnbindDevice(ctx context.Context, originalTransactionID, deviceUUID string) error
	AppendTransactionLog(ctx context.Context, l *model.TransactionLog) error
	NotificationSeen(ctx context.Context, notificationUUID string) (bool, error)
	AppendNotificationLog(ctx context.Context, l *model.NotificationLog) error
	AppendPurchaseEvent(ctx context.Context, e *model.PurchaseEvent) error
	UsersByOriginalTransactionID(ctx context.Context, originalTransactionID string) ([]model.User, error)
}

// Processor implements verify-purchase, Server Notification handling, and
// the Device Binder state machine on top of a Store and a JWS Verifier.
type Processor struct {
	store    Store
	verifier *receipt.Verifier
	cfg      Config
}

func New(store Store, verifier *receipt.Verifier, cfg Config) *Processor {
	return &Processor{store: store, verifier: verifier, cfg: cfg}
}

// VerifyPurchaseInput is the request body of the verify-purchase handler.
type VerifyPurchaseInput struct {
	JWSToken   string
	DeviceUUID string
	EventType  string // purchase | restore | renew
	DeviceName string
}

// VerifyPurchaseResult is the response body of the verify-purchase
// handler.
type VerifyPurchaseResult struct {
	IsVIP           bool
	VIPExpireTimeMs *int64
	BoundDevices    []string
	KickedDevice    string
}

// VerifyPurchase implements 8-step procedure.
func (p *Processor) VerifyPurchase(ctx context.Context, in VerifyPurchaseInput) (*VerifyPurchaseResult, error) {
	payload, err := p.verifier.Verify(in.JWSToken)
	if err != nil {
		return nil, err
	}
	txn, err := parseTransactionInfo(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid transaction payload", err)
	}

	now := time.Now().UnixMilli()

	existing, err := p.store.GetPurchaseRecord(ctx, txn.OriginalTransactionID)
	var existingExpire *int64
	recordExists := true
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		recordExists = false
	} else {
		existingExpire = existing.ExpireDateMs
	}

	effectiveExpire := txn.ExpiresDateMs
	if recordExists {
		effectiveExpire = maxInt64Ptr(txn.ExpiresDateMs, existingExpire)
		if txn.ExpiresDateMs != nil && existingExpire != nil && *txn.ExpiresDateMs < *existingExpire {
			slog.Info("entitlement: incoming expire older than existing, keeping existing",
				"originalTransactionID", txn.OriginalTransactionID, "incoming", *txn.ExpiresDateMs, "existing", *existingExpire)
		}
	}

	env := model.EnvProduction
	if txn.Environment != "" {
		env = model.Environment(txn.Environment)
	}

	pr := &model.PurchaseRecord{
		OriginalTransactionID: txn.OriginalTransactionID,
		ProductID:             txn.ProductID,
		PurchaseDateMs:        txn.PurchaseDateMs,
		ExpireDateMs:          effectiveExpire,
		Status:                model.StatusActive,
		Environment:           env,
	}
	if recordExists {
		pr.DeviceCount = existing.DeviceCount
		if existing.Status != "" {
			pr.Status = existing.Status
		}
	}
	if err := p.store.UpsertPurchaseRecord(ctx, pr); err != nil {
		return nil, fmt.Errorf("upsert purchase record: %w", err)
	}

	bindResult, err := p.bindDevice(ctx, txn.OriginalTransactionID, in.DeviceUUID, in.DeviceName, now)
	if err != nil {
		return nil, fmt.Errorf("bind device: %w", err)
	}

	isVIP := effectiveExpire == nil || *effectiveExpire >= now
	if err := p.store.UpsertUser(ctx, &model.User{
		DeviceUUID:            in.DeviceUUID,
		OriginalTransactionID: txn.OriginalTransactionID,
		IsVIP:                 isVIP,
		VIPExpireMs:           effectiveExpire,
	}); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	txnID := txn.TransactionID
	if txnID == "" {
		txnID = txn.OriginalTransactionID
	}
	if err := p.store.AppendTransactionLog(ctx, &model.TransactionLog{
		OriginalTransactionID: txn.OriginalTransactionID,
		TransactionID:         txnID,
		EventType:             in.EventType,
		DeviceUUID:            in.DeviceUUID,
		JWSToken:              in.JWSToken,
	}); err != nil {
		return nil, fmt.Errorf("append transaction log: %w", err)
	}

	return &VerifyPurchaseResult{
		IsVIP:           isVIP,
		VIPExpireTimeMs: effectiveExpire,
		BoundDevices:    bindResult.BoundDevices,
		KickedDevice:    bindResult.KickedDevice,
	}, nil
}
