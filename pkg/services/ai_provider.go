package services

import (
	"context"
	"fmt"

	"github.com/testdeck/testdeck-engine/pkg/apperrors"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/llm"
)

// providerResolver turns the stored credential into a provider client.
// It runs at the start of every registry and orchestrator operation so a
// rotated key takes effect on the next call without shared client state.
type providerResolver struct {
	creds   credentials.Store
	factory llm.ProviderFactory
}

func (r providerResolver) provider(ctx context.Context) (llm.AssistantsProvider, error) {
	key, ok, err := r.creds.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrCredentialMissing
	}
	return r.factory.ForCredential(key), nil
}
