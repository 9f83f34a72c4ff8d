// Command echod runs a small demo service exposing ECHO and GREET, with
// the built-in STATUS and CLOSE_ALL_SESSIONS operations and an optional
// etcd registration so other services can discover it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ws-rpc/codec"
	"ws-rpc/config"
	"ws-rpc/handler"
	"ws-rpc/logger"
	"ws-rpc/middleware"
	"ws-rpc/registry"
	"ws-rpc/server"
	"ws-rpc/service"
	"ws-rpc/worker"
)

const serviceID = "echo"

var (
	echoType  = codec.NewMessageTypeWith[json.RawMessage, json.RawMessage]("ECHO", codec.Raw(), codec.Raw())
	greetType = codec.NewMessageType[string, string]("GREET")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := logger.Init(&cfg.Log); err != nil {
		return err
	}
	if err := worker.Init(cfg.PoolSize); err != nil {
		return err
	}
	log := logger.WithComponent(serviceID)

	handlers := handler.NewManager()
	handler.Register(handlers, echoType, func(_ context.Context, req json.RawMessage) (json.RawMessage, error) {
		return req, nil
	})
	handler.Register(handlers, greetType, func(_ context.Context, name string) (string, error) {
		return "Hello, " + name + "!", nil
	})

	svc, err := service.New(serviceID, service.Config{
		Handlers:   handlers,
		Middleware: []middleware.Middleware{middleware.Logging(log)},
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"service": serviceID}, nil
		},
		Log: log,
	})
	if err != nil {
		return err
	}
	service.StartKeepAlive(cfg.PingFrequency)

	srv := server.New(cfg.BindAddr, log)
	if err := srv.Host(svc, cfg.WSPath, cfg.HealthPath); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, log)
		if err != nil {
			return err
		}
		defer reg.Close()

		advertiseURL := cfg.AdvertiseURL
		if advertiseURL == "" {
			advertiseURL = srv.WebSocketURL(cfg.WSPath)
		}
		if err := reg.Register(serviceID, registry.Instance{URL: advertiseURL, Weight: 1}, 10); err != nil {
			return err
		}
		defer func() {
			if err := reg.Deregister(serviceID, advertiseURL); err != nil {
				log.Warn().Err(err).Msg("failed to deregister")
			}
		}()
	}

	log.Info().Str("ws", srv.WebSocketURL(cfg.WSPath)).Str("health", srv.HealthURL(cfg.HealthPath)).Msg("echo service ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	service.StopKeepAlive()
	return srv.Shutdown(context.Background())
}
