//go:build grpcserver

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmacyDispatch/internal/config"
	"pharmacyDispatch/internal/db"
	"pharmacyDispatch/internal/dispatch"
	grpcserver "pharmacyDispatch/internal/grpc"
	"pharmacyDispatch/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("Configuration loaded: %v", cfg)

	// Open DB
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}()

	users := repository.NewUserRepository(d)
	providers := repository.NewProviderRepository(d)
	orders := repository.NewOrderRepository(d)
	broadcasts := repository.NewBroadcastRepository(d)
	notifications := repository.NewNotificationRepository(d)
	assignments := repository.NewAssignmentRepository(d)

	logger := log.Default()
	hub := dispatch.NewHub()
	notifier := dispatch.NewNotifier(notifications, dispatch.NopPusher{}, logger)
	engine := dispatch.NewEngine(broadcasts, orders, providers, notifications, notifier, hub, nil,
		dispatch.ConfigFromApp(cfg.Dispatch), logger)
	arbiter := dispatch.NewArbiter(broadcasts, orders, notifications, assignments, hub, nil, engine, logger)
	observer := dispatch.NewObserver(broadcasts, hub, nil,
		time.Duration(cfg.Dispatch.PollIntervalSec)*time.Second)

	// Start gRPC
	shutdown, err := grpcserver.StartGRPC(cfg, grpcserver.Deps{
		Users:         users,
		Providers:     providers,
		Orders:        orders,
		Broadcasts:    broadcasts,
		Notifications: notifications,
		Assignments:   assignments,
		Engine:        engine,
		Arbiter:       arbiter,
		Observer:      observer,
	})
	if err != nil {
		log.Fatalf("start grpc: %v", err)
	}
	log.Printf("gRPC server listening on %s", cfg.GRPC.Address)

	// Background maintenance: escalate expired priority phases, fail
	// broadcasts past their overall deadline, and re-broadcast stuck
	// delivery searches.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Dispatch.SweepIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := engine.EscalateDue(sweepCtx); err != nil {
					log.Printf("escalate due: %v", err)
				} else if n > 0 {
					log.Printf("escalated %d broadcasts", n)
				}
				if n, err := engine.FailOverdue(sweepCtx); err != nil {
					log.Printf("fail overdue: %v", err)
				} else if n > 0 {
					log.Printf("failed %d overdue broadcasts", n)
				}
				if n, err := engine.Sweep(sweepCtx); err != nil {
					log.Printf("sweep: %v", err)
				} else if n > 0 {
					log.Printf("re-broadcast %d delivery searches", n)
				}
			}
		}
	}()

	// Wait for signal
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
