package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calvinmclean/autotend/bridge"
	"github.com/calvinmclean/autotend/config"
	"github.com/calvinmclean/autotend/controller"
	"github.com/calvinmclean/autotend/logging"
	"github.com/calvinmclean/autotend/metrics"
	"github.com/calvinmclean/autotend/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:           "autotend",
	Short:         "autotend drives a tending machine through the bridge firmware",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one tending operation and exit when it finishes or is interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTending(cmd.Context())
	},
}

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Start the desktop UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUI(cmd.Context())
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List USB serial ports that could be running the bridge firmware",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := bridge.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "autotend.yaml", "path to the machine configuration")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "use a simulated bus instead of the serial port")

	rootCmd.AddCommand(runCmd, uiCmd, portsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// startMetrics serves /metrics when configured. The returned func shuts the server down
func startMetrics(cfg config.Config, logger *zap.Logger) func() {
	if cfg.Metrics.Addr == "" {
		return func() {}
	}

	server := metrics.Serve(cfg.Metrics.Addr, logger.Named("metrics"))
	logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func runTending(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dryRun {
		cfg.Serial.Port = ""
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, nil)
	defer logger.Sync()

	defer startMetrics(cfg, logger)()

	bus, closeBus, err := controller.OpenBus(cfg.Serial, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	svc, err := controller.NewFromConfig(cfg, bus, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	err = svc.Execute(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// an interrupt stops the run and the result is still reported
	stopOnCancel := context.AfterFunc(ctx, svc.Stop)
	defer stopOnCancel()

	outcome, err := svc.Wait(context.Background())
	if err != nil {
		return fmt.Errorf("tending %s: %w", outcome, err)
	}

	fmt.Println(outcome)
	return nil
}

func runUI(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hub := logging.NewHub()
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, hub)
	defer logger.Sync()

	defer startMetrics(cfg, logger)()

	ui.NewTendingUI(cfg, logger, hub).Run(ctx)
	return nil
}
