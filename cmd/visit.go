package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/api"
	"github.com/JakeFAU/webcat-crawler/internal/catalog"
	"github.com/JakeFAU/webcat-crawler/internal/orchestrator"
	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

type visitOptions struct {
	url   string
	input string
}

func newVisitCmd() *cobra.Command {
	opts := &visitOptions{}
	cmd := &cobra.Command{
		Use:   "visit",
		Short: "Visit every catalog page across its date range",
		Long: `Iterates the catalog (or a single --url) from start to end date in fixed
increments. Each (url, date) resolves to the nearest archived snapshot, which is
fetched, rendered, screenshotted and stored. With --input, an explicit list of
(url, date) pairs replaces date iteration.`,
		Annotations: map[string]string{annotationNeedsApp: "true"},
		RunE: withApp(func(cmd *cobra.Command, a App, e *env) error {
			return runVisit(cmd, a, e, opts)
		}),
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "visit only this url (synthesized when absent from the catalog)")
	f.StringVar(&opts.input, "input", "", "YAML or CSV file of {url, date} pairs to visit instead of iterating")
	f.String("catalog", "", "page catalog file (YAML or CSV)")
	f.String("start-date", "", "first date to visit, overriding every page (YYYY-MM-DD)")
	f.String("end-date", "", "last date bound, overriding every page (YYYY-MM-DD)")
	f.String("increment", "", `step between dates, e.g. "1 years" or "6 months"`)
	f.Bool("overwrite", false, "revisit dates that already have a record")
	f.Bool("current", false, "also visit the live page before archived dates")
	f.Int("concurrency", 0, "number of pages visited in parallel")
	f.String("ops-addr", "", "serve /healthz, /readyz, /metrics and /status on this address while running")
	return cmd
}

func runVisit(cmd *cobra.Command, a App, e *env, opts *visitOptions) error {
	ctx := cmd.Context()
	logger := e.logger

	pages, err := loadPages(e.cfg.Catalog.Path, e.cfg.Catalog.Format, opts.url)
	if err != nil {
		return err
	}

	var pairs []catalog.Pair
	if opts.input != "" {
		pairs, err = catalog.LoadPairs(opts.input, "")
		if err != nil {
			return fmt.Errorf("load visit pairs: %w", err)
		}
	} else if len(pages) == 0 {
		return errors.New("nothing to visit: set --catalog, catalog.path or --url")
	}

	stopOps := startOps(ctx, e.cfg.Server.Addr, a.Server(), logger)
	defer stopOps()

	orch := a.GetOrchestrator()
	var summary orchestrator.Summary
	if pairs != nil {
		logger.Info("visiting explicit pairs", zap.Int("pairs", len(pairs)), zap.String("input", opts.input))
		summary, err = orch.RunPairs(ctx, pairs, pages)
	} else {
		logger.Info("visiting catalog", zap.Int("pages", len(pages)))
		summary, err = orch.Run(ctx, pages)
	}
	if perr := printSummary(cmd, summary); perr != nil {
		logger.Warn("print summary failed", zap.Error(perr))
	}
	if err != nil {
		return fmt.Errorf("run visits: %w", err)
	}
	return nil
}

// loadPages reads the catalog when one is configured and narrows it to url.
func loadPages(path, format, url string) ([]visit.Page, error) {
	var pages []visit.Page
	if path != "" {
		loaded, err := catalog.Load(path, format)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		pages = loaded
	}
	return catalog.Select(pages, url), nil
}

// startOps runs the ops server in the background when addr is set. The
// returned func stops it and waits for shutdown.
func startOps(ctx context.Context, addr string, srv *api.Server, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := api.Serve(ctx, addr, srv.Handler(), logger.Named("ops")); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printSummary(cmd *cobra.Command, s orchestrator.Summary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
