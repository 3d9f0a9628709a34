// Package main implements the voicepipe API server: the HTTP front door that
// admits voice-synthesis tasks into the process queue and serves
// cancellation and queue stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fuuuzzy/voicepipe/pkg/api"
	"github.com/fuuuzzy/voicepipe/pkg/config"
	"github.com/fuuuzzy/voicepipe/pkg/logger"
	"github.com/fuuuzzy/voicepipe/pkg/queue"
	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "voicepipe-server",
	Short:        "Voicepipe API server: admits voice-clone tasks into the queue",
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
	log := logger.For("server")

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

	handler := api.NewHandler(q, cfg.Synth.SupportedLanguages, cfg.Server.MaxBodyBytes, log)
	router := api.NewRouter(handler, cfg.JWT.SecretKey, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server...")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
