package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/api"
)

const defaultServeAddr = ":8080"

func newServeCmd() *cobra.Command {
	var runCatalog bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops server",
		Long: `Serves /healthz, /readyz, /metrics, /status and the read-only /v1/visits API
until interrupted. With --run, the configured catalog is visited once in the
background and /status reports its progress.`,
		Annotations: map[string]string{annotationNeedsApp: "true"},
		RunE: withApp(func(cmd *cobra.Command, a App, e *env) error {
			ctx := cmd.Context()
			addr := e.cfg.Server.Addr
			if addr == "" {
				addr = defaultServeAddr
			}

			batchCtx, cancelBatch := context.WithCancel(ctx)
			defer cancelBatch()
			batchDone := make(chan struct{})
			if runCatalog {
				pages, err := loadPages(e.cfg.Catalog.Path, e.cfg.Catalog.Format, "")
				if err != nil {
					return err
				}
				if len(pages) == 0 {
					return errors.New("--run needs a catalog: set --catalog or catalog.path")
				}
				go func() {
					defer close(batchDone)
					if _, err := a.GetOrchestrator().Run(batchCtx, pages); err != nil {
						e.logger.Warn("background visit batch stopped", zap.Error(err))
					}
				}()
			} else {
				close(batchDone)
			}

			err := api.Serve(ctx, addr, a.Server().Handler(), e.logger.Named("ops"))
			cancelBatch()
			<-batchDone
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&runCatalog, "run", false, "visit the configured catalog once in the background")
	cmd.Flags().String("catalog", "", "page catalog file (YAML or CSV)")
	cmd.Flags().String("ops-addr", "", "listen address (default "+defaultServeAddr+")")
	return cmd
}
