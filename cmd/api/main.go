package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"venturemarket/internal/app"
	"venturemarket/internal/events"
	"venturemarket/internal/handlers"
	"venturemarket/internal/realtime"
	"venturemarket/internal/routes"
	"venturemarket/pkg/config"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg.ConfigureLogger()

	db := config.MustInitDB(cfg.DB)

	hub := realtime.NewHub(cfg.AllowedOrigins)
	defer hub.Close()

	msg, closeMessaging, err := app.OpenMessaging(cfg.RabbitMQ, hub)
	if err != nil {
		log.Fatal("Failed to initialize RabbitMQ: ", err)
	}
	defer closeMessaging()

	svc := app.NewServices(cfg, db, msg)
	h := &handlers.Handlers{
		Equity:    svc.Equity,
		Jobs:      svc.Jobs,
		Arbiter:   svc.Arbiter,
		Workspace: svc.Workspace,
	}
	if svc.Stripe != nil {
		h.Webhooks = svc.Stripe
		h.Billing = svc.Billing
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.SetupRouter(cfg.AllowedOrigins, h, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if msg.Queue != nil {
		feed, err := config.NewConsumer(events.QueueLedgerEvents, 0)
		if err != nil {
			log.Fatal("Failed to create consumer: ", err)
		}
		defer feed.Close()
		go func() {
			if err := feed.Consume(ctx, hub.Relay); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("Ledger event relay stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Infof("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
}
