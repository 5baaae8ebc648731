package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/graphql"
	"github.com/worldsio/detectbridge/upstream"
	"go.uber.org/zap"
)

var storeDetections bool

// subscribeCmd prints the live detections of one device
var subscribeCmd = &cobra.Command{
	Use:   "subscribe [device-id]",
	Short: "Print the live detections of a device",
	Long: `Subscribes to the detections of a device and prints each one as JSON
until interrupted. With --store the detections are also written to the
database, and events are created when AUTO_CREATE_EVENTS is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubscribe,
}

func init() {
	subscribeCmd.Flags().BoolVar(&storeDetections, "store", false, "store detections in the database")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateSubscriptions(); err != nil {
		return err
	}
	deviceID := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !storeDetections {
		client, err := detectbridge.NewUpstream(cfg, logger)
		if err != nil {
			return err
		}
		err = client.SubscribeDetections(ctx, deviceID, func(activity *domain.DetectionActivity) error {
			return printJSON(activity)
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, graphql.ErrSubscriptionComplete) {
			return nil
		}
		return err
	}

	done := make(chan struct{})
	var finished sync.Once
	bridge, err := openBridge(true,
		detectbridge.WithDetectionHandler(func(_ string, _ *domain.Detection, activity *domain.DetectionActivity) error {
			return printJSON(activity)
		}),
		detectbridge.WithStatusHandler(func(_ string, status detectbridge.SubscriptionStatus, err error) {
			logger.Info("subscription status", zap.String("status", string(status)), zap.Error(err))
			if status == detectbridge.StatusCompleted || (status == detectbridge.StatusError && errors.Is(err, upstream.ErrNoSubscriber)) {
				finished.Do(func() { close(done) })
			}
		}),
	)
	if err != nil {
		return err
	}
	defer bridge.Close()

	if err := bridge.Acquire(deviceID); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	return bridge.Release(deviceID)
}
