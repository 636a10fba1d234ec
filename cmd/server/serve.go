package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fleettrack/internal/api/handler"
	"fleettrack/internal/api/router"
	"fleettrack/internal/cache"
	"fleettrack/internal/config"
	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol"
	"fleettrack/internal/protocol/server"
	"fleettrack/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the device TCP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// tcpSender hands commands to the device listener, which is built after the dispatcher.
type tcpSender struct {
	srv *server.TCPServer
}

func (s *tcpSender) Send(ctx context.Context, msg transport.Message) error {
	if s.srv == nil {
		return errors.New("device listener is not running")
	}
	return s.srv.Send(ctx, msg)
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	redisCache := cache.New(ctx, cfg.RedisURL, log)
	defer redisCache.Close()

	hub := handler.NewHub(log)
	go hub.Run(ctx)

	var vehicleCache service.VehicleCache
	publishers := []service.StatePublisher{hub}
	if redisCache.Enabled() {
		vehicleCache = redisCache
		publishers = append(publishers, redisCache)
	}

	var (
		sender transport.Sender
		bus    *transport.NATS
		direct = &tcpSender{}
	)
	switch {
	case cfg.NATSURL != "":
		bus, err = transport.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer bus.Close()
		sender = bus
	case cfg.TCPAddr != "":
		sender = direct
	default:
		sender = transport.NewLog(log)
	}

	registry := service.NewRegistry(store.vehicles, vehicleCache, service.RegistryConfig{
		AutoRegister:   cfg.AutoRegister,
		DefaultOwnerID: cfg.DefaultOwner,
	}, log)
	state := service.NewStateStore(store.states, service.StateStoreConfig{OnlineWindow: cfg.OnlineWindow}, log, publishers...)
	history := service.NewHistory(store.history, log)
	dispatcher := service.NewDispatcher(store.commands, registry, sender, service.DispatcherConfig{Timeout: cfg.CommandTimeout}, log)
	ingestor := service.NewIngestor(protocol.NewParser(), registry, state, history, dispatcher, log)

	if cfg.TCPAddr != "" {
		tcp := server.NewTCPServer(cfg.TCPAddr, ingestor, log)
		if bus != nil {
			tcp.ForwardAcks(bus)
		}
		if err := tcp.Start(); err != nil {
			return err
		}
		defer tcp.Stop()
		direct.srv = tcp

		if bus != nil {
			if _, err := bus.SubscribeCommands(func(msg transport.Message) {
				if err := tcp.Deliver(msg); err != nil {
					log.Debug("command not delivered by this gateway", zap.String("imei", msg.IMEI), zap.Error(err))
				}
			}); err != nil {
				return err
			}
		}
	}

	if bus != nil {
		if _, err := bus.SubscribeAcks(func(ack transport.Ack) {
			if _, err := ingestor.Acknowledge(ctx, ack.IMEI, ack.CommandID); err != nil {
				log.Warn("failed to apply acknowledgement",
					zap.String("imei", ack.IMEI),
					zap.String("command_id", ack.CommandID),
					zap.Error(err),
				)
			}
		}); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.NewRouter(router.Dependencies{
			Ingestor:         ingestor,
			Registry:         registry,
			State:            state,
			History:          history,
			Dispatcher:       dispatcher,
			Hub:              hub,
			JWTSecret:        cfg.JWTSecret,
			LenientAck:       cfg.LenientAck,
			HistoryRetention: cfg.HistoryRetention,
			Log:              log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
