// Package main implements the voicepipe delivery worker. It drains the FIFO
// upload queue, pushes finished audio artifacts to the object store and
// notifies the caller's hook URL with the resulting links. Local artifacts
// are removed after every upload attempt, successful or not.
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
	"github.com/fuuuzzy/voicepipe/pkg/storage"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
	"github.com/fuuuzzy/voicepipe/pkg/worker"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "voicepipe-uploadworker",
	Short:        "Voicepipe delivery worker: uploads artifacts and fires webhooks",
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
	log := logger.For("uploadworker")

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader, err := storage.New(ctx, storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		PublicURL:       cfg.Storage.PublicURL,
	}, log)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	notifier := callback.New(callback.Config{
		MaxAttempts:    cfg.Callback.MaxAttempts,
		InitialDelay:   cfg.Callback.InitialDelay,
		MaxDelay:       cfg.Callback.MaxDelay,
		RequestTimeout: cfg.Callback.RequestTimeout,
	}, log)

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, log)
	go telemetry.CollectQueueDepths(ctx, q, 5*time.Second, log)

	w := worker.NewDeliveryWorker(q, uploader, notifier, worker.DeliveryWorkerOpts{
		PopTimeout: cfg.Upload.PopTimeout,
		ErrorDelay: cfg.Upload.ErrorDelay,
	}, log)

	w.Run(ctx)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
