// Command b2fs mounts a B2 (or any S3-compatible) bucket read-only as a
// local directory tree. See internal/adapter for what happens once a mount
// point is validated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/b2fs4chia/b2fs/internal/adapter"
	"github.com/b2fs4chia/b2fs/internal/config"
)

// version is overwritten at build time via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "b2fs [flags] mountpoint",
	Short:   "Mount a B2 bucket read-only as a local directory tree",
	Args:    cobra.ExactArgs(1),
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("account_id", "", "B2 account ID (or S3-compatible access key ID)")
	flags.String("application_key", "", "B2 application key (or S3-compatible secret access key)")
	flags.String("bucket_id", "", "bucket to mount")
	flags.StringVar(&cfgFile, "config_filename", "", "path to a YAML config file; flags override its values")
	flags.Duration("cache_timeout", 120*time.Second, "how long a directory listing is trusted before re-fetching")
	flags.Bool("allow_other", false, "allow users other than the mount owner to access the filesystem")
	flags.Bool("debug", false, "enable debug logging and verbose FUSE tracing")
	flags.String("endpoint", "", "S3-compatible endpoint URL (blank selects the SDK default)")
	flags.String("region", "us-west-002", "bucket region")
	flags.String("log_level", "INFO", "log level: DEBUG, INFO, WARN, or ERROR")
	flags.String("log_file", "", "log file path; empty writes to stdout")
	flags.Int("metrics_port", 9090, "port the Prometheus /metrics endpoint listens on")

	for _, name := range []string{
		"account_id", "application_key", "bucket_id", "cache_timeout",
		"allow_other", "debug", "endpoint", "region", "log_level", "log_file", "metrics_port",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if viper.IsSet("account_id") {
		cfg.AccountID = viper.GetString("account_id")
	}
	if viper.IsSet("application_key") {
		cfg.ApplicationKey = viper.GetString("application_key")
	}
	if viper.IsSet("bucket_id") {
		cfg.BucketID = viper.GetString("bucket_id")
	}
	if viper.IsSet("cache_timeout") {
		cfg.CacheTimeout = viper.GetDuration("cache_timeout")
	}
	if viper.IsSet("allow_other") {
		cfg.AllowOther = viper.GetBool("allow_other")
	}
	if viper.IsSet("debug") {
		cfg.Debug = viper.GetBool("debug")
	}
	if viper.IsSet("endpoint") {
		cfg.Endpoint = viper.GetString("endpoint")
	}
	if viper.IsSet("region") {
		cfg.Region = viper.GetString("region")
	}
	if viper.IsSet("log_level") {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("log_file") {
		cfg.LogFile = viper.GetString("log_file")
	}
	if viper.IsSet("metrics_port") {
		cfg.MetricsPort = viper.GetInt("metrics_port")
	}

	return cfg, nil
}

func run(mountPoint string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, mountPoint, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	a.Wait()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
