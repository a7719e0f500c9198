// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/infrastructure"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/middleware"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/module"
)

const issuerDiscoveryTimeout = 10 * time.Second

// NewModule creates the API module with all domain handlers and middleware.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)

	domain, err := NewDomain(runtime)
	if err != nil {
		return nil, err
	}
	if err := domain.Start(runtime); err != nil {
		return nil, err
	}

	var verifier middleware.TokenVerifier
	if cfg.API.Auth.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), issuerDiscoveryTimeout)
		defer cancel()

		verifier, err = middleware.NewVerifier(ctx, &cfg.API.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.RequestID)
	m.Use(middleware.Recoverer)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(middleware.Actor(&cfg.API.Auth, verifier))

	return m, nil
}
