package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"venturemarket/internal/app"
	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/pkg/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	cfg.ConfigureLogger()
	if !cfg.RabbitMQ.Enabled() {
		logrus.Fatal("RABBITMQ_HOST is required for the worker")
	}

	db := config.MustInitDB(cfg.DB)

	msg, closeMessaging, err := app.OpenMessaging(cfg.RabbitMQ)
	if err != nil {
		logrus.Fatal("Failed to initialize RabbitMQ: ", err)
	}
	defer closeMessaging()

	svc := app.NewServices(cfg, db, msg)

	jobConsumer, err := config.NewConsumer(events.QueueJobRun, cfg.Jobs.Workers)
	if err != nil {
		logrus.Fatal("Failed to create consumer: ", err)
	}
	defer jobConsumer.Close()

	workConsumer, err := config.NewConsumer(events.QueueWorkCompleted, 1)
	if err != nil {
		logrus.Fatal("Failed to create consumer: ", err)
	}
	defer workConsumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < max(cfg.Jobs.Workers, 1); i++ {
		g.Go(func() error {
			return jobConsumer.Consume(ctx, func(body []byte) error {
				var run events.JobRun
				if err := json.Unmarshal(body, &run); err != nil {
					logrus.Errorf("Failed to unmarshal message: %v", err)
					return nil
				}
				log := logrus.WithField("job_id", run.JobID)
				job, err := svc.Jobs.Run(ctx, run.JobID)
				if err != nil {
					if apperr.CodeOf(err) == apperr.CodeUnknown {
						return err
					}
					log.Warnf("Job run stopped: %v", err)
					return nil
				}
				log.WithField("status", job.Status).Info("Job run finished")
				return nil
			})
		})
	}
	g.Go(func() error {
		return workConsumer.Consume(ctx, func(body []byte) error {
			return svc.Workspace.HandleMessage(ctx, body)
		})
	})

	logrus.Info("Worker started, waiting for messages...")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatal(err)
	}
	logrus.Info("Worker stopped")
}
