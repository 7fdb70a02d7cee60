package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/invigil-ai/invigil/internal/alert"
	"github.com/invigil-ai/invigil/internal/auth"
	"github.com/invigil-ai/invigil/internal/config"
	"github.com/invigil-ai/invigil/internal/engine"
	"github.com/invigil-ai/invigil/internal/extractor"
	"github.com/invigil-ai/invigil/internal/gallery"
	"github.com/invigil-ai/invigil/internal/ledger"
	"github.com/invigil-ai/invigil/internal/redact"
	"github.com/invigil-ai/invigil/internal/server"
	"github.com/invigil-ai/invigil/internal/session"
	"github.com/invigil-ai/invigil/internal/signal"
	"github.com/invigil-ai/invigil/internal/telemetry"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "invigil.yaml", "Path to Invigil config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	addr := cfg.Server.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	ctx := context.Background()

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("failed to build auth: %v", err)
	}

	var ex signal.Extractor
	switch cfg.Extractor.Type {
	case "onnx":
		onnx, err := extractor.LoadOnnx(cfg.Extractor.ModelsDir, cfg.Extractor.SharedLibPath)
		if err != nil {
			log.Fatalf("failed to load extractor: %v", err)
		}
		defer onnx.Close()
		ex = onnx
	case "fake":
		redact.Logf("extractor type is %q; frame verification will use canned signals", cfg.Extractor.Type)
		ex = &extractor.Fake{}
	}

	var store ledger.Store
	if cfg.Storage.Driver == "memory" {
		store = ledger.NewMemory()
	} else {
		store, err = ledger.Open(cfg.Storage.Driver, cfg.Storage.ResolveDSN())
		if err != nil {
			log.Fatalf("failed to open ledger: %v", err)
		}
	}

	gal := gallery.NewStore()
	if cfg.Enrollment.Dir != "" && ex != nil {
		snap, loadReport, err := gallery.LoadDir(ctx, cfg.Enrollment.Dir, ex)
		if err != nil {
			log.Fatalf("failed to load enrollment dir: %v", err)
		}
		gal.Publish(snap)
		redact.Logf("enrollment: %d identities loaded, %d files rejected", len(loadReport.Loaded), len(loadReport.Rejected))
		for _, rej := range loadReport.Rejected {
			redact.Logf("enrollment: rejected %s: %s", rej.File, rej.Reason)
		}
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  cfg.Telemetry.Version,
	})
	if err != nil {
		log.Fatalf("failed to start telemetry: %v", err)
	}
	defer tel.Shutdown(ctx)

	specs := make([]alert.SinkSpec, 0, len(cfg.Alerts.Sinks))
	for _, sc := range cfg.Alerts.Sinks {
		specs = append(specs, alert.SinkSpec{
			Type:           sc.Type,
			Path:           sc.Path,
			URL:            sc.URL,
			Headers:        sc.Headers,
			TimeoutSeconds: sc.TimeoutSeconds,
		})
	}
	sinks, err := alert.BuildSinks(specs)
	if err != nil {
		log.Fatalf("failed to build alert sinks: %v", err)
	}
	var alerts *alert.Emitter
	if len(sinks) > 0 {
		alerts = alert.NewEmitter(alert.EmitterConfig{
			QueueSize:       cfg.Alerts.QueueSize,
			Workers:         cfg.Alerts.Workers,
			ShutdownTimeout: 5 * time.Second,
		}, sinks)
		defer alerts.Close(ctx)
	}

	var evidence *engine.EvidenceStore
	if cfg.Evidence.Dir != "" {
		evidence, err = engine.NewEvidenceStore(cfg.Evidence.Dir)
		if err != nil {
			log.Fatalf("failed to prepare evidence dir: %v", err)
		}
	}

	sessions := session.NewManager(store)
	eng := engine.New(engine.Config{
		Extractor:      ex,
		Gallery:        gal,
		Store:          store,
		Sessions:       sessions,
		Alerts:         alerts,
		Telemetry:      tel,
		Evidence:       evidence,
		MatchThreshold: cfg.Recognition.MatchThreshold,
		AreaFloor:      cfg.Recognition.ObjectAreaFloor,
	})

	srv := server.New(cfg, authz, eng, sessions, store, gal, ex)

	log.Printf("Starting Invigil on %s...", addr)
	if err := srv.Start(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
