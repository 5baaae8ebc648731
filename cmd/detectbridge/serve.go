package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serveCmd runs the dashboard and the live subscriptions
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard and resume watched subscriptions",
	Long: `Serves the dashboard on DASHBOARD_ADDR. Devices watched before the last
shutdown are subscribed again. Without upstream credentials the dashboard
only serves the stored data.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateDashboard(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge, err := openBridge(false)
	if err != nil {
		return err
	}
	defer bridge.Close()

	hub := webserver.NewHub(bridge, logger.Named("hub"))
	err = bridge.WithOptions(
		detectbridge.WithDetectionHandler(hub.HandleDetection),
		detectbridge.WithStatusHandler(hub.HandleStatus),
	)
	if err != nil {
		return err
	}

	server, err := webserver.New(bridge, hub, logger.Named("webserver"))
	if err != nil {
		return err
	}

	if err := bridge.WriteLog("info", "detectbridge started"); err != nil {
		logger.Warn("writing startup log", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		if bridge.Upstream == nil {
			return nil
		}
		resumed, err := bridge.ResumeWatchlist()
		if err != nil {
			logger.Warn("resuming watchlist", zap.Strings("resumed", resumed), zap.Error(err))
			return nil
		}
		logger.Info("watchlist resumed", zap.Strings("devices", resumed))
		return nil
	})

	err = g.Wait()
	logger.Info("detectbridge stopping")
	return err
}
