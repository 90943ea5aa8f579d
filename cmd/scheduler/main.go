package main

import (
	"context"
	"os/signal"
	"syscall"

	"venturemarket/internal/app"
	"venturemarket/pkg/config"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg.ConfigureLogger()

	db := config.MustInitDB(cfg.DB)

	msg, closeMessaging, err := app.OpenMessaging(cfg.RabbitMQ)
	if err != nil {
		log.Fatal("Failed to initialize RabbitMQ: ", err)
	}
	defer closeMessaging()

	svc := app.NewServices(cfg, db, msg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	mustAdd(c, cfg.Arbiter.ScanCron, "arbiter scan", func() {
		report, err := svc.Arbiter.Scan(ctx)
		if err != nil {
			log.Errorf("> Arbiter scan failed: %v", err)
			return
		}
		log.Infof("> Arbiter scan finished: %d ventures, %d violations", report.Ventures, len(report.Violations))
	})
	mustAdd(c, cfg.Arbiter.DisputeCron, "dispute resolution", func() {
		n, err := svc.Arbiter.ResolvePending(ctx)
		if err != nil {
			log.Errorf("> Dispute resolution failed: %v", err)
			return
		}
		if n > 0 {
			log.Infof("> Resolved %d disputes", n)
		}
	})
	mustAdd(c, cfg.Arbiter.SweepCron, "stalled job sweep", func() {
		n, err := svc.Jobs.SweepStalledJobs(ctx, cfg.Jobs.StalledTimeout)
		if err != nil {
			log.Errorf("> Stalled job sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Infof("> Failed %d stalled jobs", n)
		}
	})

	c.Start()
	log.Info("> Scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("> Scheduler stopped")
}

func mustAdd(c *cron.Cron, spec, name string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatalf("> Failed to schedule %s (%q): %v", name, spec, err)
	}
	log.Infof("> Scheduled %s: %s", name, spec)
}
