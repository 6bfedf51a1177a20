package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/app"
)

// newTickCmd runs every processor once, for cron-driven deployments.
func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Runs one scheduler tick and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer a.Close()

			var errs []error
			results := a.Tick(cmd.Context())
			for _, res := range results {
				if res.Err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", res.Job, res.Err))
				}
			}
			rt.logger.Info("tick complete", zap.Int("processors", len(results)), zap.Int("errors", len(errs)))
			return errors.Join(errs...)
		},
	}
}
