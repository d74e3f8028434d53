// Package bulk implements the batch acquisition subcommand.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kmakela/gearbase/internal/browser"
	bulksvc "github.com/kmakela/gearbase/internal/bulk"
	"github.com/kmakela/gearbase/internal/capture"
	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/datastore"
	"github.com/kmakela/gearbase/internal/equivcache"
	"github.com/kmakela/gearbase/internal/fetcher"
	"github.com/kmakela/gearbase/internal/metrics"
	"github.com/kmakela/gearbase/internal/oracle"
	"github.com/prometheus/client_golang/prometheus"
)

// Command creates the bulk subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Acquire images for the largest equipment groups missing one",
		Long: "Scan the registry for equivalence groups without images and run " +
			"the acquisition pipeline for each, biggest groups first, up to the " +
			"configured batch cap.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Bulk.MaxGroups, "maxgroups", viper.GetInt("bulk.maxgroups"), "Maximum equivalence groups per run")
	cmd.Flags().DurationVar(&settings.Bulk.GroupDelay, "groupdelay", viper.GetDuration("bulk.groupdelay"), "Delay between groups")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func runBulk(ctx context.Context, settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Printf("error closing registry: %v\n", err)
		}
	}()

	registry := prometheus.NewRegistry()
	acquisitionMetrics, err := metrics.NewAcquisitionMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	oracleClient := oracle.NewClient(oracle.ConfigFromSettings(settings))
	defer oracleClient.Close()

	downloader := fetcher.New(settings)
	defer downloader.Close()

	engine := browser.GetEngine(settings)
	defer engine.Close()

	cache := equivcache.New(store, acquisitionMetrics)
	orchestrator := capture.New(oracleClient, downloader, engine, acquisitionMetrics)

	scheduler := bulksvc.New(store, orchestrator, cache, acquisitionMetrics, bulksvc.Config{
		MaxGroups:  settings.Bulk.MaxGroups,
		GroupDelay: settings.Bulk.GroupDelay,
		DestDir:    settings.Upload.Dir,
	})

	summary, runErr := scheduler.Run(ctx)

	fmt.Printf("Bulk run: %d processed, %d success, %d failed (%.1fs)\n",
		summary.Processed, summary.Success, summary.Failed, summary.Duration.Seconds())
	for i := range summary.Details {
		d := &summary.Details[i]
		status := "ok"
		if !d.Success {
			status = "failed: " + d.Reason
		}
		fmt.Printf("  %s %s (group of %d): %s\n", d.Manufacturer, d.Model, d.GroupSize, status)
	}

	if runErr != nil && !isCancellation(runErr) {
		return runErr
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
