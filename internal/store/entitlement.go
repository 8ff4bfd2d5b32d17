package store

import (
	"context"
	"database/sql"
	"errors"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
)

// GetUserByDevice returns the user bound to a device UUID, or a NotFound
// apperr if none exists yet.
func (s *Store) GetUserByDevice(ctx context.Context, deviceUUID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT internal_id, device_uuid, original_transaction_id, is_vip, vip_expire_ms
		FROM users WHERE device_uuid = ?`, deviceUUID)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, internalID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT internal_id, device_uuid, original_transaction_id, is_vip, vip_expire_ms
		FROM users WHERE internal_id = ?`, internalID)
	return scanUser(row)
}

// UsersByOriginalTransactionID returns every user row currently linked to
// a subscription lineage, for the Server Notification handler's
// update-all-users step.
func (s *Store) UsersByOriginalTransactionID(ctx context.Context, originalTransactionID string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, device_uuid, original_transaction_id, is_vip, vip_expire_ms
		FROM users WHERE original_transaction_id = ?`, originalTransactionID)
	if err != nil {
		return nil, apperr.Internal("list users by original transaction id", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		var otxID sql.NullString
		var vipExpire sql.NullInt64
		var isVIP int
		if err := rows.Scan(&u.InternalID, &u.DeviceUUID, &otxID, &isVIP, &vipExpire); err != nil {
			return nil, apperr.Internal("scan user", err)
		}
		u.OriginalTransactionID = otxID.String
		u.IsVIP = isVIP != 0
		if vipExpire.Valid {
			v := vipExpire.Int64
			u.VIPExpireMs = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var otxID sql.NullString
	var vipExpire sql.NullInt64
	var isVIP int
	if err := row.Scan(&u.InternalID, &u.DeviceUUID, &otxID, &isVIP, &vipExpire); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal("scan user", err)
	}
	u.OriginalTransactionID = otxID.String
	u.IsVIP = isVIP != 0
	if vipExpire.Valid {
		v := vipExpire.Int64
		u.VIPExpireMs = &v
	}
	return &u, nil
}

// UpsertUser creates the user row if absent, and updates VIP state
// otherwise. Registration is idempotent on
// device_uuid.
func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (internal_id, device_uuid, original_transaction_id, is_vip, vip_expire_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_uuid) DO UPDATE SET
			original_transaction_id = excluded.original_transaction_id,
			is_vip = excluded.is_vip,
			vip_expire_ms = excluded.vip_expire_ms`,
		u.InternalID, u.DeviceUUID, nullableString(u.OriginalTransactionID), boolToInt(u.IsVIP), nullableInt64Ptr(u.VIPExpireMs))
	if err != nil {
		return apperr.Internal("upsert user", err)
	}
	return commitOrInternal(tx)
}

// GetPurchaseRecord fetches a subscription lineage by its
// originalTransactionID, or NotFound.
func (s *Store) GetPurchaseRecord(ctx context.Context, originalTransactionID string) (*model.PurchaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT original_transaction_id, product_id, purchase_date_ms, expire_date_ms, status, environment, device_count
		FROM purchase_records WHERE original_transaction_id = ?`, originalTransactionID)

	var pr model.PurchaseRecord
	var expireMs sql.NullInt64
	if err := row.Scan(&pr.OriginalTransactionID, &pr.ProductID, &pr.PurchaseDateMs, &expireMs, &pr.Status, &pr.Environment, &pr.DeviceCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("purchase record not found")
		}
		return nil, apperr.Internal("scan purchase record", err)
	}
	if expireMs.Valid {
		v := expireMs.Int64
		pr.ExpireDateMs = &v
	}
	return &pr, nil
}

// UpsertPurchaseRecord writes (or updates) a subscription lineage row. It
// is the write path for both verify-purchase and Server Notification
// handling.
func (s *Store) UpsertPurchaseRecord(ctx context.Context, pr *model.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_records (original_transaction_id, product_id, purchase_date_ms, expire_date_ms, status, environment, device_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(original_transaction_id) DO UPDATE SET
			product_id = excluded.product_id,
			purchase_date_ms = excluded.purchase_date_ms,
			expire_date_ms = excluded.expire_date_ms,
			status = excluded.status,
			environment = excluded.environment,
			device_count = excluded.device_count`,
		pr.OriginalTransactionID, pr.ProductID, pr.PurchaseDateMs, nullableInt64Ptr(pr.ExpireDateMs), pr.Status, pr.Environment, pr.DeviceCount)
	if err != nil {
		return apperr.Internal("upsert purchase record", err)
	}
	return commitOrInternal(tx)
}

// ListDeviceBindings returns the devices bound to a subscription ordered
// by bind time, oldest first, the order the "kick oldest" policy needs.
func (s *Store) ListDeviceBindings(ctx context.Context, originalTransactionID string) ([]model.DeviceBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT original_transaction_id, device_uuid, device_name, bind_time_ms, last_active_time_ms
		FROM device_bindings WHERE original_transaction_id = ?
		ORDER BY bind_time_ms ASC`, originalTransactionID)
	if err != nil {
		return nil, apperr.Internal("list device bindings", err)
	}
	defer rows.Close()

	var out []model.DeviceBinding
	for rows.Next() {
		var b model.DeviceBinding
		if err := rows.Scan(&b.OriginalTransactionID, &b.DeviceUUID, &b.DeviceName, &b.BindTimeMs, &b.LastActiveTimeMs); err != nil {
			return nil, apperr.Internal("scan device binding", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BindDevice inserts or refreshes a device binding and keeps
// purchase_records.device_count consistent in the same transaction.
func (s *Store) BindDevice(ctx context.Context, b *model.DeviceBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_bindings (original_transaction_id, device_uuid, device_name, bind_time_ms, last_active_time_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(original_transaction_id, device_uuid) DO UPDATE SET
			last_active_time_ms = excluded.last_active_time_ms,
			device_name = excluded.device_name`,
		b.OriginalTransactionID, b.DeviceUUID, b.DeviceName, b.BindTimeMs, b.LastActiveTimeMs)
	if err != nil {
		return apperr.Internal("insert device binding", err)
	}
	if err := refreshDeviceCount(ctx, tx, b.OriginalTransactionID); err != nil {
		return err
	}
	return commitOrInternal(tx)
}

// UnbindDevice removes one device from a subscription.
func (s *Store) UnbindDevice(ctx context.Context, originalTransactionID, deviceUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM device_bindings WHERE original_transaction_id = ? AND device_uuid = ?`,
		originalTransactionID, deviceUUID)
	if err != nil {
		return apperr.Internal("delete device binding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("device binding not found")
	}
	if err := refreshDeviceCount(ctx, tx, originalTransactionID); err != nil {
		return err
	}
	return commitOrInternal(tx)
}

func refreshDeviceCount(ctx context.Context, tx *sql.Tx, originalTransactionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE purchase_records SET device_count = (
			SELECT COUNT(*) FROM device_bindings WHERE original_transaction_id = ?
		) WHERE original_transaction_id = ?`, originalTransactionID, originalTransactionID)
	if err != nil {
		return apperr.Internal("refresh device count", err)
	}
	return nil
}

// AppendTransactionLog records one verify-purchase call.
func (s *Store) AppendTransactionLog(ctx context.Context, l *model.TransactionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (original_transaction_id, transaction_id, event_type, device_uuid, jws_token)
		VALUES (?, ?, ?, ?, ?)`,
		l.OriginalTransactionID, l.TransactionID, l.EventType, l.DeviceUUID, l.JWSToken)
	if err != nil {
		return apperr.Internal("append transaction log", err)
	}
	return nil
}

// NotificationSeen reports whether a notificationUUID has already been
// recorded, the idempotency check run before an App Store Server
// Notification is processed.
func (s *Store) NotificationSeen(ctx context.Context, notificationUUID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_logs WHERE notification_uuid = ?`, notificationUUID).Scan(&n)
	if err != nil {
		return false, apperr.Internal("check notification seen", err)
	}
	return n > 0, nil
}

// AppendNotificationLog records a Server Notification by its idempotent
// UUID. Returns a Duplicate apperr if the UUID was already recorded
// under a unique-constraint race.
func (s *Store) AppendNotificationLog(ctx context.Context, l *model.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (notification_uuid, notification_type, subtype, payload)
		VALUES (?, ?, ?, ?)`,
		l.NotificationUUID, l.NotificationType, l.Subtype, l.Payload)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return apperr.Duplicate("notification already processed")
		}
		return apperr.Internal("append notification log", err)
	}
	return nil
}

// AppendPurchaseEvent records a renewal-class analytics row for the
// purchase_events table.
func (s *Store) AppendPurchaseEvent(ctx context.Context, e *model.PurchaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchase_events (original_transaction_id, transaction_id, notification_type)
		VALUES (?, ?, ?)`,
		e.OriginalTransactionID, e.TransactionID, e.NotificationType)
	if err != nil {
		return apperr.Internal("append purchase event", err)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint", "constraint failed"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func commitOrInternal(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return apperr.Internal("commit tx", err)
	}
	return nil
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullableInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
