// Package cmd defines and implements the CLI commands for the webcat executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/api"
	"github.com/JakeFAU/webcat-crawler/internal/app"
	"github.com/JakeFAU/webcat-crawler/internal/config"
	"github.com/JakeFAU/webcat-crawler/internal/logging"
	"github.com/JakeFAU/webcat-crawler/internal/orchestrator"
)

// annotationNeedsApp marks commands that drive the browser and archive.
const annotationNeedsApp = "webcat/needs-app"

type ctxKey int

const (
	envKey ctxKey = iota
	appKey
)

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetOrchestrator() *orchestrator.Orchestrator
	Server() *api.Server
}

// env is what every command gets regardless of whether it builds an App.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is replaced in tests to capture output.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webcat",
		Short: "Capture archived snapshots of library web pages.",
		Long: `webcat walks a catalog of pages through time. For every (url, date) it resolves
the nearest Wayback Machine snapshot, fetches the raw and rendered page, takes a
screenshot per viewport and upserts one visit record keyed by (url, date).`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger})
			if cmd.Annotations[annotationNeedsApp] == "true" {
				appInstance, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newVisitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// flagOverride maps a changed flag onto the loaded config.
type flagOverride func(cmd *cobra.Command, cfg *config.Config) error

var overrides = map[string]flagOverride{
	"start-date": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetString("start-date")
		cfg.Visit.StartDate = v
		return err //nolint:wrapcheck
	},
	"end-date": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetString("end-date")
		cfg.Visit.EndDate = v
		return err //nolint:wrapcheck
	},
	"increment": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetString("increment")
		cfg.Visit.Increment = v
		return err //nolint:wrapcheck
	},
	"overwrite": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetBool("overwrite")
		cfg.Visit.Overwrite = v
		return err //nolint:wrapcheck
	},
	"current": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetBool("current")
		cfg.Visit.Current = v
		return err //nolint:wrapcheck
	},
	"concurrency": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetInt("concurrency")
		cfg.Visit.Concurrency = v
		return err //nolint:wrapcheck
	},
	"catalog": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetString("catalog")
		cfg.Catalog.Path = v
		return err //nolint:wrapcheck
	},
	"ops-addr": func(cmd *cobra.Command, cfg *config.Config) error {
		v, err := cmd.Flags().GetString("ops-addr")
		cfg.Server.Addr = v
		return err //nolint:wrapcheck
	},
}

// applyFlagOverrides lets explicitly set flags win over file and env values,
// then revalidates.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	changed := false
	for name, apply := range overrides {
		if cmd.Flags().Lookup(name) == nil || !cmd.Flags().Changed(name) {
			continue
		}
		if err := apply(cmd, cfg); err != nil {
			return fmt.Errorf("read --%s: %w", name, err)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp hands the injected App to fn and closes it afterwards. Cobra skips
// post-run hooks when RunE fails, so closing happens here.
func withApp(fn func(cmd *cobra.Command, a App, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := resolveEnv(cmd.Context())
		if err != nil {
			return err
		}
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, e)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running batch.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "webcat:", err)
		os.Exit(1)
	}
}
