// Package main runs an in-process miniredis instance so the voicepipe
// binaries can be exercised locally without a real Redis.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/fuuuzzy/voicepipe/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "address to listen on")
	flag.Parse()

	log := logger.For("devredis")

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()

	log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down MiniRedis...")
}
