// Circle Kernel command line entry point
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/config"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/kernel"
)

var (
	configPath string
	dbPath     string
	userID     string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "circles",
	Short:         "Classify contacts into relationship circles",
	Long:          "Suggest, assign and audit relationship circles, and keep circle sizes within capacity.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("CIRCLES_CONFIG", ""), "YAML configuration file (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnv("CIRCLES_DB", "circles.db"), "SQLite database path")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", getEnv("CIRCLES_USER", ""), "User whose network to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Development logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newContext is cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openKernel builds a kernel from flags and environment. The caller closes it.
func openKernel(ctx context.Context, logger *zap.Logger) (*kernel.Kernel, error) {
	circlesCfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := kernel.DefaultConfig()
	cfg.Circles = circlesCfg
	cfg.DBPath = dbPath
	return kernel.New(ctx, cfg, logger)
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

// withKernel runs fn against an open kernel and closes it afterwards.
func withKernel(fn func(ctx context.Context, k *kernel.Kernel) error) error {
	if err := requireUser(); err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := newContext()
	defer cancel()

	k, err := openKernel(ctx, logger)
	if err != nil {
		return err
	}
	defer k.Close()
	return fn(ctx, k)
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	return jsonx.NewEncoder(os.Stdout).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
