// Package httpapi wires the Gin routes for the catalogue & entitlement
// HTTP API on top of internal/catalogue and internal/entitlement:
// constructor functions returning gin.HandlerFunc closures over injected
// collaborators, gin.H response maps, and per-request slog logging.
package httpapi

import (
	"context"

	"cobblepod/internal/authtoken"
	"cobblepod/internal/catalogue"
	"cobblepod/internal/entitlement"
	"cobblepod/internal/model"
	"cobblepod/internal/queue"
)

// Store is the subset of store.Store the HTTP handlers reach for directly,
// outside of what catalogue.Service and entitlement.Processor already
// encapsulate.
type Store interface {
	GetUserByDevice(ctx context.Context, deviceUUID string) (*model.User, error)
	UpsertUser(ctx context.Context, u *model.User) error
	ListDeviceBindings(ctx context.Context, originalTransactionID string) ([]model.DeviceBinding, error)
	PublishPodcast(ctx context.Context, p *model.Podcast) error
}

// Deps collects every collaborator the route table needs.
type Deps struct {
	Catalogue      *catalogue.Service
	Entitlement    *entitlement.Processor
	Issuer         *authtoken.Issuer
	Store          Store
	Queue          *queue.Queue
	InternalAPIKey string
}
