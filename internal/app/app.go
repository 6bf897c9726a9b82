// Package app assembles the triage pipeline from resolved configuration.
// Both the HTTP server and the CLI build their Service here.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arovia/internal/cfg"
	"github.com/linnemanlabs/arovia/internal/facility"
	"github.com/linnemanlabs/arovia/internal/facility/pgstore"
	"github.com/linnemanlabs/arovia/internal/llm/claude"
	"github.com/linnemanlabs/arovia/internal/llm/groq"
	"github.com/linnemanlabs/arovia/internal/notify/slack"
	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/postgres"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

// Options carries what the caller owns rather than configures.
type Options struct {
	Logger  log.Logger
	Hooks   triage.EngineHooks
	Version string
}

// App is a built pipeline plus the resources it holds open.
type App struct {
	Service *pipeline.Service

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build wires providers, the facility directory, the geocoder and the
// notifier into a pipeline.Service. On error everything opened so far is
// closed again.
func Build(ctx context.Context, c *cfg.Config, opts Options) (_ *App, err error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	reasonerProvider, err := newProvider(c, c.Reasoner)
	if err != nil {
		return nil, fmt.Errorf("reasoner: %w", err)
	}
	gateProvider, err := newProvider(c, c.Gate)
	if err != nil {
		return nil, fmt.Errorf("relevance gate: %w", err)
	}
	engine := triage.NewEngine(reasonerProvider, L, opts.Hooks)
	gate := triage.NewGate(gateProvider, L, opts.Hooks, triage.DefaultRetryPolicy())
	L.Info(ctx, "initialized LLM providers",
		"reasoner", engine.Info().Provider, "reasoner_model", engine.Info().Model,
		"gate", gate.Info().Provider, "gate_model", gate.Info().Model)

	geocoder, err := a.newGeocoder(c, L)
	if err != nil {
		return nil, err
	}

	dir, err := a.newDirectory(ctx, c, L)
	if err != nil {
		return nil, err
	}

	svcOpts := []pipeline.Option{pipeline.WithVersion(opts.Version)}

	if key := c.TranscriptionKey(); key != "" {
		backend := voice.NewWhisper(key, c.WhisperModel, voice.WithWhisperBaseURL(c.WhisperBaseURL))
		svcOpts = append(svcOpts, pipeline.WithTranscriber(voice.NewAdapter(backend, L,
			voice.WithConfidenceFloor(c.ConfidenceFloor),
			voice.WithHooks(opts.Hooks),
		)))
		L.Info(ctx, "voice input enabled", "model", c.WhisperModel)
	} else {
		L.Warn(ctx, "voice input disabled, no transcription key configured")
	}

	if c.SlackWebhookURL != "" {
		svcOpts = append(svcOpts, pipeline.WithNotifier(slack.New(c.SlackWebhookURL, L)))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	matcher := facility.NewMatcher(dir, geocoder, L, opts.Hooks)
	a.Service = pipeline.NewService(engine, gate, matcher, L, svcOpts...)
	return a, nil
}

func newProvider(c *cfg.Config, name string) (triage.Provider, error) {
	switch name {
	case cfg.ProviderGroq:
		return groq.New(c.GroqAPIKey, c.GroqModel, groq.WithBaseURL(c.GroqBaseURL)), nil
	case cfg.ProviderClaude:
		return claude.New(c.ClaudeAPIKey, c.ClaudeModel), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

func (a *App) newGeocoder(c *cfg.Config, L log.Logger) (facility.Geocoder, error) {
	var inner facility.Geocoder
	switch c.Geocoder {
	case cfg.GeocoderNone, "":
		return nil, nil
	case cfg.GeocoderNominatim:
		inner = facility.NewNominatim(c.NominatimURL, c.CountryCodes)
	case cfg.GeocoderGoogle:
		region, _, _ := strings.Cut(c.CountryCodes, ",")
		g, err := facility.NewGoogle(c.GoogleMapsAPIKey, strings.TrimSpace(region))
		if err != nil {
			return nil, err
		}
		inner = g
	default:
		return nil, fmt.Errorf("unknown geocoder %q", c.Geocoder)
	}

	cached, err := facility.NewCached(inner, facility.CacheOptions{Dir: c.GeocodeCacheDir, TTL: c.GeocodeCacheTTL}, L)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer{"geocode cache", cached.Close})
	return cached, nil
}

// newDirectory loads the catalog and, with a database configured, seeds
// it into Postgres and serves from there.
func (a *App) newDirectory(ctx context.Context, c *cfg.Config, L log.Logger) (facility.Directory, error) {
	catalog, err := facility.LoadCatalog(c.FacilityCatalog)
	if err != nil {
		return nil, err
	}
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory facility catalog", "facilities", catalog.Len())
		return catalog, nil
	}

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{
		Tracer: postgres.TracerOptions{SlowQuery: c.DBSlowQuery},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	a.closers = append(a.closers, closer{"postgres pool", func() error { pool.Close(); return nil }})

	store, err := pgstore.New(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pgstore init: %w", err)
	}
	seeded, err := store.Seed(ctx, catalog.Records())
	if err != nil {
		return nil, fmt.Errorf("seed facilities: %w", err)
	}
	L.Info(ctx, "using postgres facility directory", "seeded", seeded)
	return store, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.closers[i].name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
