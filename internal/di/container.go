// Package di assembles the kiosk's runtime object graph: local store, backend
// client, cart state machine, auth session, payments, and the HTTP router.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chumon-app/kiosk/internal/auth"
	"github.com/chumon-app/kiosk/internal/backend"
	"github.com/chumon-app/kiosk/internal/cart"
	"github.com/chumon-app/kiosk/internal/handlers"
	"github.com/chumon-app/kiosk/internal/localstore"
	"github.com/chumon-app/kiosk/internal/payments"
	"github.com/chumon-app/kiosk/internal/platform/config"
	"github.com/chumon-app/kiosk/internal/platform/observability"
	"github.com/chumon-app/kiosk/internal/reports"
)

// Container holds the wired runtime dependencies.
type Container struct {
	Config  config.Config
	Logger  *zap.Logger
	Local   *localstore.Store
	Backend *backend.Client
	Session *auth.Session
	Store   *cart.Store
	Syncer  *cart.Syncer
	Router  chi.Router

	// Provider and Poller are nil when payment credentials are absent.
	Provider payments.Provider
	Poller   *payments.Poller
}

// NewContainer wires the full object graph from configuration. The cart store
// is returned stopped; the caller starts it and runs the syncer.
func NewContainer(cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	local, err := localstore.Open(cfg.Store.Path, localstore.WithLogger(logger.Named("localstore")))
	if err != nil {
		return nil, fmt.Errorf("di: open local store: %w", err)
	}

	var lineVerifier *auth.LineVerifier
	if cfg.Line.ChannelID != "" {
		opts := []auth.LineOption{}
		if cfg.Line.JWKSURL != "" {
			opts = append(opts, auth.WithLineJWKSURL(cfg.Line.JWKSURL))
		}
		lineVerifier, err = auth.NewLineVerifier(cfg.Line.ChannelID, opts...)
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("di: line verifier: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Backend.RequestTimeout}

	// The session is the token source for the backend client, and the backend
	// client is the session's verification collaborator. Break the cycle with
	// an unauthenticated bootstrap client for the session itself.
	bootstrapClient, err := backend.NewClient(cfg.Backend.BaseURL, httpClient, nil)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: backend bootstrap client: %w", err)
	}
	session, err := auth.NewSession(auth.SessionDeps{
		Backend: bootstrapClient,
		Local:   local,
		Line:    lineVerifier,
		Logger:  logger.Named("auth"),
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: session: %w", err)
	}
	client, err := backend.NewClient(cfg.Backend.BaseURL, httpClient, session)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: backend client: %w", err)
	}

	store, err := cart.NewStore(cart.StoreDeps{
		Local:  local,
		Logger: logger.Named("cart"),
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: cart store: %w", err)
	}
	syncer, err := cart.NewSyncer(cart.SyncerDeps{
		Store:       store,
		Backend:     client,
		Auth:        session,
		Local:       local,
		Logger:      logger.Named("sync"),
		Debounce:    cfg.Sync.Debounce,
		PushTimeout: cfg.Sync.PushTimeout,
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: cart syncer: %w", err)
	}

	var (
		provider payments.Provider
		poller   *payments.Poller
	)
	if cfg.PayPay.Enabled() {
		paypay, err := payments.NewPayPay(payments.PayPayConfig{
			APIKey:     cfg.PayPay.APIKey,
			APISecret:  cfg.PayPay.APISecret,
			MerchantID: cfg.PayPay.MerchantID,
			BaseURL:    cfg.PayPay.BaseURL,
			Logger:     logger.Named("paypay"),
		})
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("di: paypay provider: %w", err)
		}
		provider = paypay
		poller, err = payments.NewPoller(payments.PollerDeps{
			Provider: provider,
			Logger:   logger.Named("paypay"),
			Interval: cfg.PayPay.PollInterval,
			Timeout:  cfg.PayPay.PollTimeout,
		})
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("di: payment poller: %w", err)
		}
	}

	exporter, err := reports.NewExporter(reports.ExporterDeps{
		Source: client,
		Logger: logger.Named("reports"),
	})
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("di: report exporter: %w", err)
	}

	router, err := buildRouter(logger, routerDeps{
		local:       local,
		store:       store,
		syncer:      syncer,
		session:     session,
		client:      client,
		provider:    provider,
		poller:      poller,
		pollTimeout: cfg.PayPay.PollTimeout,
		exporter:    exporter,
	})
	if err != nil {
		local.Close()
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Local:    local,
		Backend:  client,
		Session:  session,
		Store:    store,
		Syncer:   syncer,
		Router:   router,
		Provider: provider,
		Poller:   poller,
	}, nil
}

type routerDeps struct {
	local       *localstore.Store
	store       *cart.Store
	syncer      *cart.Syncer
	session     *auth.Session
	client      *backend.Client
	provider    payments.Provider
	poller      *payments.Poller
	pollTimeout time.Duration
	exporter    *reports.Exporter
}

func buildRouter(logger *zap.Logger, deps routerDeps) (chi.Router, error) {
	cartHandlers, err := handlers.NewCartHandlers(deps.store, logger.Named("handlers"))
	if err != nil {
		return nil, fmt.Errorf("di: cart handlers: %w", err)
	}
	menuHandlers, err := handlers.NewMenuHandlers(deps.client)
	if err != nil {
		return nil, fmt.Errorf("di: menu handlers: %w", err)
	}
	authHandlers, err := handlers.NewAuthHandlers(deps.session, deps.store, deps.local, logger.Named("handlers"))
	if err != nil {
		return nil, fmt.Errorf("di: auth handlers: %w", err)
	}
	checkoutDeps := handlers.CheckoutDeps{
		Store:   deps.store,
		Syncer:  deps.syncer,
		Session: deps.session,
		Backend: deps.client,
		Logger:  logger.Named("handlers"),
	}
	if deps.provider != nil {
		checkoutDeps.Provider = deps.provider
		checkoutDeps.Waiter = deps.poller
	}
	checkoutHandlers, err := handlers.NewCheckoutHandlers(checkoutDeps)
	if err != nil {
		return nil, fmt.Errorf("di: checkout handlers: %w", err)
	}
	orderHandlers, err := handlers.NewOrderHandlers(deps.client, deps.session)
	if err != nil {
		return nil, fmt.Errorf("di: order handlers: %w", err)
	}
	adminHandlers, err := handlers.NewAdminHandlers(deps.client, deps.session, deps.exporter, logger.Named("handlers"))
	if err != nil {
		return nil, fmt.Errorf("di: admin handlers: %w", err)
	}

	routerOpts := []handlers.Option{}
	if deps.poller != nil {
		// Payment confirmation holds the request open for the whole poll
		// window; give it headroom past the poll timeout.
		routerOpts = append(routerOpts, handlers.WithRequestTimeout(deps.pollTimeout+30*time.Second))
	}
	router := handlers.NewRouter(append(routerOpts,
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(nil)),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithMenuRoutes(menuHandlers.Routes),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)...)
	return router, nil
}

// Close tears down long-lived resources in dependency order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Syncer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := c.Syncer.Flush(flushCtx); err != nil {
			c.Logger.Warn("final cart flush failed", zap.Error(err))
		}
		cancel()
		c.Syncer.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Local != nil {
		return c.Local.Close()
	}
	return nil
}
