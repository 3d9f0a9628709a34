// Package main implements the voicepipe synthesis worker. It drains the
// process queue in priority-score order, invokes the synthesis engine and
// routes results to the upload queue (or failures straight to the caller's
// hook). The worker runs indefinitely; task errors and transient backend
// outages never terminate it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fuuuzzy/voicepipe/pkg/callback"
	"github.com/fuuuzzy/voicepipe/pkg/config"
	"github.com/fuuuzzy/voicepipe/pkg/logger"
	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/synth"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
	"github.com/fuuuzzy/voicepipe/pkg/worker"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "voicepipe-synthworker",
	Short:        "Voicepipe synthesis worker: turns queued tasks into audio artifacts",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path (default: ./voicepipe.yaml)")
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("voicepipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/voicepipe")
	}

	v.SetEnvPrefix("VOICEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger.SetLevel(cfg.LogLevel)
	log := logger.For("synthworker")

	q := queue.New(queue.Config{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		ProcessQueueKey: cfg.Redis.ProcessQueueKey,
		UploadQueueKey:  cfg.Redis.UploadQueueKey,
	})
	defer q.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := q.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
	}

	engine := synth.NewHTTPEngine(cfg.Synth.EngineURL, cfg.Synth.EngineTimeout)
	processor, err := synth.NewProcessor(engine, cfg.Synth.OutputDir, cfg.Synth.TempDir,
		cfg.Synth.DownloadTimeout, log)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	notifier := callback.New(callback.Config{
		MaxAttempts:    cfg.Callback.MaxAttempts,
		InitialDelay:   cfg.Callback.InitialDelay,
		MaxDelay:       cfg.Callback.MaxDelay,
		RequestTimeout: cfg.Callback.RequestTimeout,
	}, log)

	sweeper, err := worker.NewSweeper(cfg.Synth.SweepSpec,
		[]string{cfg.Synth.OutputDir, cfg.Synth.TempDir}, cfg.Synth.SweepMaxAge, log)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, log)
	go telemetry.CollectQueueDepths(ctx, q, 5*time.Second, log)

	w := worker.NewSynthWorker(q, processor, notifier, worker.SynthWorkerOpts{
		IdleDelay:          cfg.Synth.IdleDelay,
		ErrorDelay:         cfg.Synth.ErrorDelay,
		CleanupAfterUpload: cfg.Synth.CleanupAfterUpload,
	}, log)

	w.Run(ctx)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
