// Package main provides the registry daemon entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	layersconfig "github.com/R3E-Network/universal-registry/infrastructure/config"
	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	slmetrics "github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/infrastructure/middleware"
	"github.com/R3E-Network/universal-registry/infrastructure/runtime"
	"github.com/R3E-Network/universal-registry/internal/api"
	"github.com/R3E-Network/universal-registry/internal/bridge"
	"github.com/R3E-Network/universal-registry/internal/bus"
	"github.com/R3E-Network/universal-registry/internal/cryptolayer"
	"github.com/R3E-Network/universal-registry/internal/hotswap"
	"github.com/R3E-Network/universal-registry/internal/propagation"
	"github.com/R3E-Network/universal-registry/internal/registry"
	"github.com/R3E-Network/universal-registry/internal/storage"
	"github.com/R3E-Network/universal-registry/internal/streaming"
	"github.com/R3E-Network/universal-registry/pkg/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewFromEnv("registryd")

	store, err := storage.Open(ctx, cfg.Database.ConnectionString(), cfg.Database.MigrateOnStart)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	crypto, err := cryptolayer.Open(cfg.Security.KeyDir)
	if err != nil {
		log.Fatalf("open crypto layer: %v", err)
	}

	subscriptionBus := bus.New(cfg.Runtime.Subscription.InboxSize)

	reg := registry.NewRegistry(store,
		registry.WithPublisher(subscriptionBus),
		registry.WithLogger(logger),
	)

	deliverer := propagation.NewRegistryDeliverer(reg)
	propEngine := propagation.New(reg, deliverer, propagation.ConflictPolicy(cfg.Runtime.Propagation.ConflictStrategy))

	hotswapMgr := hotswap.NewManager(reg)

	registerFeatureLayers(ctx, reg, layersconfig.LoadLayersConfigOrDefault())

	streamEngine := streaming.New(crypto)
	streamEngine.Start()
	defer streamEngine.Stop()

	integrationBridge := bridge.New(reg, 0)
	if cfg.Runtime.Bridge.Enabled {
		integrationBridge.Start()
		defer integrationBridge.Stop()
	}

	health := middleware.NewHealthChecker("1.0.0")
	health.RegisterCheck("store", func() error {
		_, err := reg.Count(ctx, registry.Filters{})
		return err
	})

	if slmetrics.Enabled() {
		slmetrics.Init("registryd")
	}

	var verifier api.BearerVerifier
	switch {
	case cfg.Auth.JWTSecret != "":
		verifier = api.NewHMACVerifier([]byte(cfg.Auth.JWTSecret))
	case runtime.IsProduction() || runtime.StrictIdentityMode():
		log.Fatalf("CRITICAL: AUTH_JWT_SECRET is required in production")
	default:
		logger.Warn(ctx, "AUTH_JWT_SECRET not set, External API auth disabled", nil)
	}

	server := api.NewServer(api.Config{
		Registry:     reg,
		Bus:          subscriptionBus,
		Propagation:  propEngine,
		HotSwap:      hotswapMgr,
		Streaming:    streamEngine,
		Bridge:       integrationBridge,
		Health:       health,
		AuthVerifier: verifier,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, portString(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("registryd listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// registerFeatureLayers turns each enabled entry in the layers config into a
// FeatureLayer registry entry, so an operator can query /v1/registry/entries
// for type=feature_layer to see which optional subsystems are live
// without cross-referencing deployment config.
func registerFeatureLayers(ctx context.Context, reg *registry.Registry, layers *layersconfig.LayersConfig) {
	for _, id := range layers.EnabledServices() {
		settings := layers.GetSettings(id)
		layer := &registry.FeatureLayer{
			ID:        "feature-layer-" + id,
			Namespace: "system",
			Name:      id,
			Version:   "1.0.0",
			Flags: []registry.FeatureFlag{
				{ID: id, Category: "subsystem", Maturity: "ga", Enabled: true},
			},
			Facets: map[string][]string{"description": {settings.Description}},
		}
		if err := reg.RegisterFeatureLayer(ctx, layer); err != nil {
			log.Printf("register feature layer %s: %v", id, err)
		}
	}
}

func portString(port int) string {
	if port <= 0 {
		return "8090"
	}
	return strconv.Itoa(port)
}
