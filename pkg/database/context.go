package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// TenantScopeKey is the context key for the request-scoped database connection.
	TenantScopeKey contextKey = "tenantScope"
)

// GetTenantScope retrieves the scoped database connection from context.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok
}

// SetTenantScope stores a scoped database connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// TenantScopeProvider creates scoped contexts outside the HTTP middleware,
// for background work such as the assistant reconciliation sweep.
type TenantScopeProvider struct {
	db *DB
}

func NewTenantScopeProvider(db *DB) *TenantScopeProvider {
	return &TenantScopeProvider{db: db}
}

// WithTenantScope returns a context scoped to projectID.
// The cleanup function must be called when the scope is no longer needed.
func (p *TenantScopeProvider) WithTenantScope(ctx context.Context, projectID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithTenant(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}

// WithoutTenantScope returns a context whose connection sees every project.
func (p *TenantScopeProvider) WithoutTenantScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), scope.Close, nil
}
