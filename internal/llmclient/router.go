// File: internal/llmclient/router.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
)

// Router implements schemas.LLMClient and dispatches each request to the
// client configured for its capability tier.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

// NewRouter creates a router with one client per tier.
func NewRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient) (*Router, error) {
	if fastClient == nil {
		return nil, fmt.Errorf("fast tier client cannot be nil")
	}
	if powerfulClient == nil {
		return nil, fmt.Errorf("powerful tier client cannot be nil")
	}
	return &Router{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

// Generate forwards the request to the client for its tier. An unspecified
// tier defaults to powerful.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Close closes every underlying client, reporting the combined errors. The
// same client may back both tiers; closing it twice must be harmless.
func (r *Router) Close() error {
	seen := make(map[schemas.LLMClient]bool)
	var errs []error
	for _, client := range r.clients {
		if seen[client] {
			continue
		}
		seen[client] = true
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
