package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shai-nadav/cdr-observatory/internal/cdrclassify"
	"github.com/shai-nadav/cdr-observatory/internal/cdrengine"
	"github.com/shai-nadav/cdr-observatory/internal/cdrhealth"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
	"github.com/shai-nadav/cdr-observatory/internal/cdrpipeline"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsink"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsource"
	"github.com/shai-nadav/cdr-observatory/internal/config"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.InputDir, "input-dir", "", "Directory of CDR export files to process (overrides CDR_INPUT_DIR)")
	flag.StringVar(&overrides.InputFile, "input-file", "", "Single CDR export file to process (overrides CDR_INPUT_FILE)")
	flag.StringVar(&overrides.ExtensionRanges, "extension-ranges", "", "Comma-separated internal extension ranges, e.g. 1000-1999 (overrides EXTENSION_RANGES)")
	flag.StringVar(&overrides.EndpointMapPath, "endpoint-map", "", "Path to the SIP endpoint classification XML file (overrides ENDPOINT_MAP_PATH)")
	flag.StringVar(&overrides.VoicemailNumber, "voicemail-number", "", "Configured voicemail pilot number (overrides VOICEMAIL_NUMBER)")
	flag.StringVar(&overrides.OutputCSVPath, "output-csv", "", "Path to write the per-leg CSV output (overrides OUTPUT_CSV_PATH)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the database sink (overrides DATABASE_URL)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address for /healthz and /metrics (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.EarlyEmit, "early-emit", "", "true/false: enable completion-detection early emission (overrides EARLY_EMIT)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("cdr-observatory starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extClassifier := cdrclassify.NewExtensionClassifier(splitNonEmpty(cfg.ExtensionRanges))

	var endpointClassifier *cdrclassify.EndpointClassifier
	if cfg.EndpointMapPath != "" {
		endpointClassifier, err = cdrclassify.LoadEndpointClassifierFile(cfg.EndpointMapPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load endpoint map")
		}
		log.Info().Int("pstn_endpoints", endpointClassifier.PSTNCount()).Msg("endpoint map loaded")
	} else {
		endpointClassifier = cdrclassify.NewEndpointClassifier()
		log.Warn().Msg("no ENDPOINT_MAP_PATH configured — endpoint classification will rely on extension ranges only")
	}

	state := cdrpipeline.NewState(
		cdrleg.NewCache(),
		extClassifier,
		endpointClassifier,
		cfg.VoicemailNumber,
		log.With().Str("component", "pipeline").Logger(),
	)

	var source cdrsource.Source
	if cfg.InputDir != "" {
		dirSource, err := cdrsource.NewDirSource(cfg.InputDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open input directory")
		}
		log.Info().Str("dir", cfg.InputDir).Int("files", dirSource.FileCount()).Msg("input directory discovered")
		source = dirSource
	} else {
		fileSource, err := cdrsource.NewFileSource(cfg.InputFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open input file")
		}
		source = fileSource
	}
	defer source.Close()

	var sinks []cdrsink.Sink
	var pgSink *cdrsink.PostgresSink
	if cfg.OutputCSVPath != "" {
		csvSink, err := cdrsink.NewCSVSink(cfg.OutputCSVPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open CSV output")
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
		log.Info().Str("path", cfg.OutputCSVPath).Msg("CSV sink configured")
	}
	if cfg.DatabaseURL != "" {
		pgSink, err = cdrsink.NewPostgresSink(ctx, cfg.DatabaseURL, log.With().Str("component", "postgres").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pgSink.Close()
		sinks = append(sinks, pgSink)
		log.Info().Msg("postgres sink configured")
	}

	// Health/metrics HTTP surface runs while the batch is processed; it is
	// shut down by the deferred Shutdown below once the run completes and
	// main returns.
	health := cdrhealth.NewHandler(pgSink, version, startTime, log.With().Str("component", "http").Logger())
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: health.Router()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	engine := cdrengine.New(cdrengine.Options{
		Source:        source,
		State:         state,
		Sinks:         sinks,
		MaxCachedLegs: cfg.MaxCachedLegs,
		EarlyEmit:     cfg.EarlyEmit,
		Log:           log.With().Str("component", "engine").Logger(),
	})

	result, err := engine.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("engine run failed")
	}

	log.Info().
		Int("lines_read", result.LinesRead).
		Int("records_parsed", result.RecordsParsed).
		Int("parse_errors", result.ParseErrors).
		Int("calls_emitted", result.CallsEmitted).
		Int("groups_evicted_early", result.GroupsEvicted).
		Int("groups_early_emitted", result.GroupsEarlyEmits).
		Bool("aborted", result.Aborted).
		Dur("elapsed", time.Since(startTime)).
		Msg("cdr-observatory run complete")

	if result.Aborted {
		os.Exit(1)
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
