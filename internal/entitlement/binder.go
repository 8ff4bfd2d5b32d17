package entitlement

import (
	"context"
	"fmt"
	"time"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
)

const maxBoundDevices = 2

// BindResult reports the outcome of a Device Binder bind() call.
type BindResult struct {
	BoundDevices []string
	KickedDevice string
}

// bindDevice implements the Device Binder state machine: already-bound
// refresh, new-with-slots insert, or new-while-full kick-oldest.
func (p *Processor) bindDevice(ctx context.Context, originalTransactionID, deviceUUID, deviceName string, now int64) (*BindResult, error) {
	bindings, err := p.store.ListDeviceBindings(ctx, originalTransactionID)
	if err != nil {
		return nil, fmt.Errorf("list device bindings: %w", err)
	}

	for _, b := range bindings {
		if b.DeviceUUID == deviceUUID {
			if err := p.store.BindDevice(ctx, &model.DeviceBinding{
				OriginalTransactionID: originalTransactionID,
				DeviceUUID:            deviceUUID,
				DeviceName:            deviceName,
				BindTimeMs:            b.BindTimeMs,
				LastActiveTimeMs:      now,
			}); err != nil {
				return nil, err
			}
			return &BindResult{BoundDevices: deviceUUIDs(bindings)}, nil
		}
	}

	if len(bindings) < maxBoundDevices {
		if err := p.store.BindDevice(ctx, &model.DeviceBinding{
			OriginalTransactionID: originalTransactionID,
			DeviceUUID:            deviceUUID,
			DeviceName:            deviceName,
			BindTimeMs:            now,
			LastActiveTimeMs:      now,
		}); err != nil {
			return nil, err
		}
		return &BindResult{BoundDevices: append(deviceUUIDs(bindings), deviceUUID)}, nil
	}

	// Full: oldest binding by lastActiveTimeMs is kicked. ListDeviceBindings
	// already orders ascending by bindTimeMs, but eviction orders by
	// lastActiveTimeMs, so find the true minimum explicitly.
	oldest := bindings[0]
	for _, b := range bindings {
		if b.LastActiveTimeMs < oldest.LastActiveTimeMs {
			oldest = b
		}
	}

	if err := p.store.UnbindDevice(ctx, originalTransactionID, oldest.DeviceUUID); err != nil {
		return nil, fmt.Errorf("kick oldest device: %w", err)
	}
	if err := p.downgradeUserDevice(ctx, oldest.DeviceUUID); err != nil {
		return nil, fmt.Errorf("downgrade kicked device user: %w", err)
	}
	if err := p.store.BindDevice(ctx, &model.DeviceBinding{
		OriginalTransactionID: originalTransactionID,
		DeviceUUID:            deviceUUID,
		DeviceName:            deviceName,
		BindTimeMs:            now,
		LastActiveTimeMs:      now,
	}); err != nil {
		return nil, err
	}

	var remaining []string
	for _, b := range bindings {
		if b.DeviceUUID != oldest.DeviceUUID {
			remaining = append(remaining, b.DeviceUUID)
		}
	}
	remaining = append(remaining, deviceUUID)

	return &BindResult{BoundDevices: remaining, KickedDevice: oldest.DeviceUUID}, nil
}

// UnbindDevice implements unbind(self, target, T): rejects self-unbind,
// removes the binding, and downgrades the target's User row.
func (p *Processor) UnbindDevice(ctx context.Context, selfDeviceUUID, targetDeviceUUID, originalTransactionID string) error {
	if selfDeviceUUID == targetDeviceUUID {
		return apperr.Validation("cannot unbind the calling device")
	}
	if err := p.store.UnbindDevice(ctx, originalTransactionID, targetDeviceUUID); err != nil {
		return err
	}
	return p.downgradeUserDevice(ctx, targetDeviceUUID)
}

func (p *Processor) downgradeUserDevice(ctx context.Context, deviceUUID string) error {
	u, err := p.store.GetUserByDevice(ctx, deviceUUID)
	if err != nil {
		return nil // no user row for this device yet; nothing to downgrade.
	}
	u.IsVIP = false
	u.OriginalTransactionID = ""
	return p.store.UpsertUser(ctx, u)
}

// LoginResult reports whether a login-time consistency check found the
// device's binding missing and downgraded it
// final paragraph.
type LoginResult struct {
	User         *model.User
	DeviceStatus string // "" or "kicked"
}

// CheckLogin runs the login-time consistency check for a known device: if
// the User's subscription lineage no longer lists this device as bound, it
// is downgraded and reported as kicked; an expired VIP window is also
// downgraded here.
func (p *Processor) CheckLogin(ctx context.Context, deviceUUID string) (*LoginResult, error) {
	u, err := p.store.GetUserByDevice(ctx, deviceUUID)
	if err != nil {
		return nil, err
	}

	if u.OriginalTransactionID != "" {
		bindings, err := p.store.ListDeviceBindings(ctx, u.OriginalTransactionID)
		if err != nil {
			return nil, fmt.Errorf("list device bindings: %w", err)
		}
		bound := false
		for _, b := range bindings {
			if b.DeviceUUID == deviceUUID {
				bound = true
				break
			}
		}
		if !bound {
			u.IsVIP = false
			if err := p.store.UpsertUser(ctx, u); err != nil {
				return nil, err
			}
			return &LoginResult{User: u, DeviceStatus: "kicked"}, nil
		}
	}

	if u.IsVIP && u.VIPExpireMs != nil && *u.VIPExpireMs < time.Now().UnixMilli() {
		u.IsVIP = false
		if err := p.store.UpsertUser(ctx, u); err != nil {
			return nil, err
		}
	}

	return &LoginResult{User: u}, nil
}

func deviceUUIDs(bindings []model.DeviceBinding) []string {
	out := make([]string, len(bindings))
	for i, b := range bindings {
		out[i] = b.DeviceUUID
	}
	return out
}
