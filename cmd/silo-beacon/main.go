package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EternisAI/silo-beacon/internal/packer"
)

var AppVersion string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "silo-beacon",
		Short:        "check in with a controller and run the tasks it hands out",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return InitConfig(configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBeacon(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default application.yml)")

	root.AddCommand(newFrameCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), AppVersion)
		},
	}
	// no config needed
	cmd.PersistentPreRun = func(*cobra.Command, []string) {}
	return cmd
}

func newFrameCmd() *cobra.Command {
	var listenerType uint32

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "print the encrypted identity beat as hex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			beat := a.beat
			if listenerType != 0 {
				beat = packer.WithListenerType(beat, listenerType)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n%s\n", len(beat), hex.EncodeToString(beat))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&listenerType, "listener-type", 0, "prepend a listener-type discriminant")
	return cmd
}

func runBeacon(ctx context.Context) error {
	slog.Info("Silo Beacon", "version", AppVersion)

	a, err := newApp(ctx, config, nil)
	if err != nil {
		slog.Error("Failed to initialise beacon", "error", err)
		return err
	}
	defer a.Close()

	if err := a.beacon.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-a.beacon.Done():
		slog.Info("Beacon exited")
	}

	a.beacon.Stop()
	slog.Info("Shutdown complete")
	return nil
}
