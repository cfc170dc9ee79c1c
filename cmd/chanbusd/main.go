// chanbusd runs the authority broker node behind a WebSocket listener.
//
// Configuration comes from the environment, optionally seeded by a .env
// file in the working directory.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chanbus/chanbus/core/broker"
	"github.com/chanbus/chanbus/core/server"
	"github.com/chanbus/chanbus/core/transport/ws"
	"github.com/chanbus/chanbus/pkg/logger"
)

type config struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	WSPath   string     `env:"WS_PATH" envDefault:"/ws"`

	Broker broker.Config
	Listen server.Config
}

func main() {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	wsServer := ws.NewServer(ws.WithServerLogger(log.With(logger.Component("ws"))))

	node, err := broker.NewAuthority(wsServer,
		broker.WithConfig(cfg.Broker),
		broker.WithLogger(log.With(logger.Component("broker"))),
	)
	if err != nil {
		log.Error("broker setup failed", logger.Error(err))
		os.Exit(1)
	}

	httpServer, err := server.NewFromConfig(cfg.Listen,
		server.WithLogger(log.With(logger.Component("listener"))),
	)
	if err != nil {
		log.Error("listener setup failed", logger.Error(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := node.Healthcheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(node.Run(ctx))
	g.Go(httpServer.Run(ctx, mux))

	if err := g.Wait(); err != nil {
		log.Error("broker exited", logger.Error(err))
		os.Exit(1)
	}
	log.Info("broker exited cleanly")
}
