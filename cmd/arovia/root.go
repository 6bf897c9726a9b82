package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/arovia/internal/app"
	vc "github.com/linnemanlabs/arovia/internal/cfg"
	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/triage"
	"github.com/linnemanlabs/arovia/internal/voice"
)

const (
	appName   = "arovia"
	component = "cli"
	envPrefix = "AROVIA_"
)

// flags that only mean something to the HTTP server
var serverOnlyFlags = []string{"drain-seconds", "shutdown-budget-seconds", "http-port", "api-tokens"}

type service interface {
	AnalyzeText(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
	AnalyzeVoice(ctx context.Context, c voice.Capturer, req pipeline.VoiceRequest) (*pipeline.Outcome, error)
	Facilities(ctx context.Context, q pipeline.FacilityQuery) ([]triage.Facility, error)
	Models() pipeline.Models
}

// buildFunc returns a ready service and a function releasing its resources.
type buildFunc func(ctx context.Context, c *vc.Config, logger log.Logger) (service, func() error, error)

func buildApp(ctx context.Context, c *vc.Config, logger log.Logger) (service, func() error, error) {
	a, err := app.Build(ctx, c, app.Options{Logger: logger, Version: v.Get().Version})
	if err != nil {
		return nil, nil, err
	}
	return a.Service, a.Close, nil
}

type cli struct {
	cfg     vc.Config
	logCfg  log.Config
	verbose bool
	jsonOut bool
	build   buildFunc
}

func newRootCmd(build buildFunc) *cobra.Command {
	v.AppName = appName
	v.Component = component

	c := &cli{build: build}

	// the server's flag definitions, bridged into cobra. Environment values
	// are applied first so explicit flags still win when cobra parses.
	gfs := flag.NewFlagSet(appName, flag.ContinueOnError)
	c.cfg.RegisterFlags(gfs)
	c.logCfg.RegisterFlags(gfs)
	cfg.FillFromEnv(gfs, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	root := &cobra.Command{
		Use:   appName,
		Short: "Medical triage from text or voice",
		Long: `arovia - symptom triage with urgency scoring and facility referral.

It does not diagnose. In an emergency call 108 or 112.

Backends are chosen with --reasoner and --relevance-gate (groq or claude).
Facilities come from the built-in catalog, a --facility-catalog YAML file or
a PostgreSQL directory (--database-url).

Examples:
  arovia triage "chest pain spreading to my left arm" --location Hyderabad
  arovia voice recording.wav --language hi --location 17.385,78.4867
  arovia facilities --specialty Cardiology --location Secunderabad --emergency`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(gfs)
	for _, name := range serverOnlyFlags {
		_ = root.PersistentFlags().MarkHidden(name)
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output as JSON (for piping)")

	root.AddCommand(
		c.triageCmd(),
		c.voiceCmd(),
		c.facilitiesCmd(),
		c.languagesCmd(),
		c.modelsCmd(),
		c.versionCmd(),
	)
	return root
}

// open validates the configuration and builds the service. The returned
// func releases it.
func (c *cli) open(cmd *cobra.Command) (service, func(), error) {
	errs := append(c.cfg.ValidateModels(), c.cfg.ValidateFacilities()...)
	errs = append(errs, c.logCfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := log.Nop()
	if c.verbose {
		lg, err := log.New(c.logCfg.ToOptions(v.AppName))
		if err != nil {
			return nil, nil, fmt.Errorf("logger init: %w", err)
		}
		logger = lg.With("component", component)
	}

	svc, closeFn, err := c.build(cmd.Context(), &c.cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() {
		if err := closeFn(); err != nil {
			logger.Error(cmd.Context(), err, "release resources")
		}
	}, nil
}
