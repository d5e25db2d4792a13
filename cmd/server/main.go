package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomrelay/internal/logx"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/scaling"
	"github.com/Tyrowin/roomrelay/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := server.NewConfigFromEnv()
	logger := logx.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info().Msg("starting RoomRelay server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The scaling adapter is chosen once: Redis when configured, otherwise
	// broadcasts stay within this process.
	var adapter relay.Adapter
	var redisAdapter *scaling.RedisAdapter
	if cfg.RedisURL != "" {
		var err error
		redisAdapter, err = scaling.NewRedisAdapter(ctx, cfg.RedisURL, cfg.RedisChannel, logx.Component(logger, "redis"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start scaling adapter")
		}
		adapter = redisAdapter
	}

	handler := relay.NewHandler(relay.Options{
		HistoryLimit: cfg.HistoryLimit,
		SendBuffer:   cfg.SendBuffer,
		Adapter:      adapter,
		Logger:       logger,
	})

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := handler.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("relay event loop stopped")
		}
	}()

	srv := server.New(*cfg, handler, logger)
	if redisAdapter != nil {
		srv.AddHealthCheck("redis", redisAdapter.Ping)
	}
	srv.Start()

	httpServer := server.CreateServer(srv.Config().Port, srv.Routes())
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Info().Msg("graceful shutdown initiated")
				return shutdown(ctx, httpServer, srv, adapter, cancel, relayDone, logger)
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("code", exitCode).Msg("application exited")
	os.Exit(exitCode)
}
