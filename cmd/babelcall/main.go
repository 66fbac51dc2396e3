// Command babelcall is the main entry point for the babelcall translation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcall/internal/app"
	"github.com/MrWong99/babelcall/internal/archive"
	archivepg "github.com/MrWong99/babelcall/internal/archive/postgres"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/health"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
	"github.com/MrWong99/babelcall/pkg/provider/mt/deepl"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	"github.com/MrWong99/babelcall/pkg/provider/stt/deepgram"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
	"github.com/MrWong99/babelcall/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/babelcall/pkg/provider/vad"
	"github.com/MrWong99/babelcall/pkg/provider/vad/energy"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultShutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "babelcall: config file %q not found: copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "babelcall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("babelcall starting",
		"version", version,
		"config", *configPath,
		"admin_addr", cfg.Server.AdminAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "babelcall",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	appOpts := []app.Option{
		app.WithMetrics(metrics),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return telemetry.Shutdown(sctx)
		}),
	}

	// ── Transcript archive ────────────────────────────────────────────────────
	var archiveStore *archivepg.Store
	if dsn := cfg.Archive.DSN; dsn != "" {
		archiveStore, err = archivepg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript archive", "err", err)
			return 1
		}
		rec := archive.NewRecorder(archiveStore,
			archive.WithQueueSize(cfg.Archive.QueueSize),
			archive.WithWriteTimeout(cfg.Archive.WriteTimeout),
		)
		appOpts = append(appOpts,
			app.WithArchive(rec),
			app.WithCloser(func() error {
				archiveStore.Close()
				return nil
			}),
		)
		slog.Info("transcript archive enabled")
	}

	application, err := app.New(cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := application.ApplyConfig(old, new)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			watcher = w
		}
	}

	// ── Admin server ──────────────────────────────────────────────────────────
	checks := []health.Checker{health.ListenerChecker("listeners", application.Ready)}
	for _, kind := range []string{"stt", "mt", "tts"} {
		if fn, ok := providers.Breakers[kind]; ok {
			checks = append(checks, health.BreakerChecker(kind, fn))
		}
	}
	if archiveStore != nil {
		checks = append(checks, health.Checker{Name: "archive", Check: archiveStore.Ping})
	}
	hh := health.New(checks, health.WithStats(func() any {
		st := struct {
			app.Stats
			Config *config.WatcherStats `json:"config,omitempty"`
		}{Stats: application.Stats()}
		if watcher != nil {
			ws := watcher.Stats()
			st.Config = &ws
		}
		return st
	}))

	var admin *http.Server
	if cfg.Server.AdminAddr != "" {
		mux := http.NewServeMux()
		hh.Register(mux)
		if archiveStore != nil {
			archive.Register(mux, archiveStore)
		}
		mux.Handle("GET /metrics", telemetry.MetricsHandler())
		admin = &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           observe.Middleware(metrics, observe.WithUntraced("/healthz", "/readyz", "/metrics"))(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return application.Run(gctx)
	})
	if watcher != nil {
		eg.Go(func() error { return watcher.Run(gctx) })
	}
	if admin != nil {
		eg.Go(func() error {
			slog.Info("admin server listening", "addr", admin.Addr, "tls", cfg.Server.TLS != nil)
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = admin.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = admin.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("admin server: %w", err)
		})
	}
	eg.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		hh.SetDraining(true)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		var errs []error
		if err := application.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("application: %w", err))
		}
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// babelcall into reg. Each factory maps the generic fields of a
// config.ProviderEntry and its Options onto the implementation's options.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := config.Option(entry, "language", cfg.Pipeline.SourceLang); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if cfg.Gateway.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(cfg.Gateway.SampleRate))
		}
		if ms := config.Option(entry, "endpointing_ms", 0); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── MT ────────────────────────────────────────────────────────────────────

	reg.RegisterMT("deepl", func(entry config.ProviderEntry) (mt.Provider, error) {
		var opts []deepl.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepl.WithBaseURL(entry.BaseURL))
		}
		if d := config.Option(entry, "timeout", ""); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("deepl: options.timeout: %w", err)
			}
			opts = append(opts, deepl.WithTimeout(timeout))
		}
		if f := cfg.Translator.Formality; f != "" {
			opts = append(opts, deepl.WithFormality(mt.Formality(f)))
		}
		return deepl.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if outputFmt := config.Option(entry, "output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        babelcall: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("MT", cfg.Providers.MT.Name, cfg.Providers.MT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printRow("Languages", cfg.Pipeline.SourceLang+" -> "+cfg.Pipeline.TargetLang)
	printRow("Framed addr", orDisabled(cfg.Gateway.FramedAddr))
	printRow("Message addr", orDisabled(cfg.Gateway.MessageAddr))
	fmt.Printf("║  RTP streams     : %-19d ║\n", len(cfg.RTP.Streams))
	fmt.Printf("║  Endpoints       : %-19d ║\n", len(cfg.Pipeline.Endpoints))
	fmt.Printf("║  Voices          : %-19d ║\n", len(cfg.Voices))
	fmt.Printf("║  Glossary terms  : %-19d ║\n", len(cfg.Pipeline.Glossary.Terms))
	printRow("Archive", archiveState(cfg.Archive.DSN))
	if cfg.Server.AdminAddr != "" {
		printRow("Admin addr", cfg.Server.AdminAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func archiveState(dsn string) string {
	if dsn == "" {
		return "(disabled)"
	}
	return "postgres"
}

func orDisabled(addr string) string {
	if addr == "" {
		return "(disabled)"
	}
	return addr
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
