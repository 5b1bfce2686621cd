package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/maumercado/coprocrt/internal/bridge"
	"github.com/maumercado/coprocrt/internal/config"
	"github.com/maumercado/coprocrt/internal/diag"
	"github.com/maumercado/coprocrt/internal/diag/wsstream"
	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/reactor"
	"github.com/maumercado/coprocrt/internal/scheduler"
	"github.com/maumercado/coprocrt/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting coprocrt diag server")

	re, err := reactor.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reactor")
	}

	sched := scheduler.New(re)
	sched.SetIdleGCPeriod(cfg.Scheduler.IdleGCPeriod)

	reg := diag.NewRegistry()
	hub := wsstream.NewHub()
	sched.SetTraceHooks(diag.Hooks(reg, hub))

	handlerRegistry := diag.NewHandlerRegistry()
	registerDemoHandlers(handlerRegistry, sched)

	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()

	var root *task.Task
	schedErrCh := make(chan error, 1)
	ready := make(chan struct{})

	if cfg.Bridge.Enabled {
		consumerName := fmt.Sprintf("%s-%d", hostnameOrDefault(), os.Getpid())
		br, err := bridge.New(cfg.Bridge, consumerName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect bridge")
		}
		defer br.Close()

		inbox := bridge.NewInbox()
		bridgeHandlers := bridge.NewHandlerRegistry()
		registerBridgeHandlers(bridgeHandlers, sched)
		consumer := bridge.NewConsumer(br, inbox, bridgeHandlers)
		consumer.Start(bridgeCtx)
		defer consumer.Stop()

		presence := bridge.NewPresence(br, consumerName)
		presence.Start(bridgeCtx)
		defer presence.Stop()

		sched.SetIdleProc(func() {
			for _, req := range inbox.Drain() {
				fn, ok := consumer.Handler(req)
				if !ok {
					continue
				}
				t := sched.Spawn(root, fn)
				reg.Track(t)
				log.Info().Str("coprocess_id", t.ID()).Str("type", req.Type).Msg("coprocess spawned via bridge")
			}
			presence.SetCoprocessCount(len(reg.List()))
		})
	}

	go func() {
		goruntime.LockOSThread()
		defer goruntime.UnlockOSThread()

		root = sched.Root(func(self *task.Task) (any, error) {
			close(ready)
			_, _ = sched.Suspend(self)
			return nil, nil
		})
		schedErrCh <- sched.RunLoop()
	}()
	<-ready

	diagSrv := diag.NewServer(&cfg.Diag, cfg.Auth, sched, root, reg, hub, handlerRegistry)
	errCh := diagSrv.Start()
	log.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Diag.Host, cfg.Diag.Port)).Msg("diag server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("diag server stopped unexpectedly")
		}
	case err := <-schedErrCh:
		log.Error().Err(err).Msg("scheduler stopped unexpectedly")
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := diagSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("diag server shutdown error")
	}

	bridgeCancel()
	sched.Stop(root, nil)

	select {
	case <-schedErrCh:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("timed out waiting for scheduler to stop")
	}

	log.Info().Msg("coprocrt stopped")
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return uuid.New().String()[:8]
	}
	return h
}
