package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// queriesCmd runs the example queries once
var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Run the device, track and detection queries once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bridge, err := openBridge(true)
		if err != nil {
			return err
		}
		defer bridge.Close()

		results, err := bridge.Queries(cmd.Context())
		if err != nil {
			logger.Warn("queries finished with errors", zap.Error(err))
		}
		if printErr := printJSON(results); printErr != nil {
			return printErr
		}
		return err
	},
}

// mutationsCmd runs the example mutations once
var mutationsCmd = &cobra.Command{
	Use:   "mutations",
	Short: "Create an event producer and the example events once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateMutations(); err != nil {
			return err
		}
		bridge, err := openBridge(true)
		if err != nil {
			return err
		}
		defer bridge.Close()

		results, err := bridge.Mutations(cmd.Context())
		if err != nil {
			logger.Warn("mutations finished with errors", zap.Error(err))
		}
		if printErr := printJSON(results); printErr != nil {
			return printErr
		}
		return err
	},
}
