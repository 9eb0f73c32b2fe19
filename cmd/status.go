package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/store"
)

// openStore is replaced in tests.
var openStore = store.Open

func newStatusCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report stored visit records",
		Long:  "Prints the number of stored visit records and, with --url, the dates recorded for that url.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, store.Config{
				Provider: e.cfg.DB.Provider,
				Path:     e.cfg.DB.Path,
				DSN:      e.cfg.DB.DSN,
				Table:    e.cfg.DB.Table,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				if cerr := s.Close(); cerr != nil {
					e.logger.Warn("close store failed", zap.Error(cerr))
				}
			}()

			n, err := s.Count(ctx)
			if err != nil {
				return fmt.Errorf("count records: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "records: %d\n", n)
			if url == "" {
				return nil
			}
			dates, err := s.Dates(ctx, url)
			if err != nil {
				return fmt.Errorf("list dates: %w", err)
			}
			fmt.Fprintf(out, "%s: %d dates\n", url, len(dates))
			for _, d := range dates {
				fmt.Fprintf(out, "  %s\n", d)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "list stored dates for this url")
	return cmd
}
