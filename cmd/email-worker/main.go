package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	emailadapter "github.com/example/sendinblue-relay/internal/adapters/email"
	amqppublisher "github.com/example/sendinblue-relay/internal/amqp/publisher"
	"github.com/example/sendinblue-relay/internal/config"
	"github.com/example/sendinblue-relay/internal/dedup"
	"github.com/example/sendinblue-relay/internal/health"
	"github.com/example/sendinblue-relay/internal/kafka/consumer"
	"github.com/example/sendinblue-relay/internal/kafka/producer"
	kafkapublisher "github.com/example/sendinblue-relay/internal/kafka/publisher"
	"github.com/example/sendinblue-relay/internal/logger"
	"github.com/example/sendinblue-relay/internal/models"
	"github.com/example/sendinblue-relay/internal/providers/factory"
	"github.com/example/sendinblue-relay/internal/worker"
	emailvalidator "github.com/example/sendinblue-relay/internal/worker/validator/email"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "email-worker").Logger()

	prod, err := producer.New(cfg.Kafka.Brokers, logger.Component(log, "kafka-producer"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.ConsumerGroup, logger.Component(log, "kafka-consumer"), cfg.Worker.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	statusPublishers := worker.StatusFanout{
		kafkapublisher.NewStatusPublisher(prod, cfg.Topics.Status, logger.Component(log, "status-publisher")),
	}
	if cfg.AMQP.URI != "" {
		mirror, err := amqppublisher.Dial(cfg.AMQP.URI, cfg.AMQP.Exchange, logger.Component(log, "amqp-publisher"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect amqp status mirror")
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close amqp status mirror")
			}
		}()
		statusPublishers = append(statusPublishers, mirror)
	}
	dlqPublisher := kafkapublisher.NewDLQPublisher(prod, cfg.Topics.DLQ, logger.Component(log, "dlq-publisher"))

	backend, err := factory.Sendinblue(cfg.Sendinblue, cfg.Timeouts, logger.Component(log, "sendinblue"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise sendinblue backend")
	}

	adapter, err := emailadapter.NewAdapter(backend, logger.Component(log, "email-adapter"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise email adapter")
	}

	validator := emailvalidator.New(cfg.Validation, logger.Component(log, "email-validator"))

	checks := map[string]health.Check{
		"kafka_producer": health.Ready(prod),
		"kafka_consumer": health.Ready(cons),
	}

	deps := worker.Dependencies{
		Adapter:         adapter,
		Validator:       validator,
		StatusPublisher: statusPublishers,
		DLQPublisher:    dlqPublisher,
		Committer:       worker.BoundCommitter{},
		Logger:          log,
		Now:             time.Now,
	}
	if cfg.Dedup.RedisURL != "" {
		store, err := dedup.Dial(ctx, cfg.Dedup.RedisURL, logger.Component(log, "dedup"),
			dedup.WithTTL(time.Duration(cfg.Dedup.TTLSeconds)*time.Second),
			dedup.WithKeyPrefix(cfg.Dedup.KeyPrefix),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect dedup store")
		}
		defer store.Close()
		deps.Deduplicator = store
		checks["redis"] = health.Ready(store)
	}

	engine, err := worker.NewEngine(worker.Config{
		Channel:             models.ChannelEmail,
		MsgMaxBytes:         cfg.Validation.MsgMaxBytes,
		WorkerConcurrency:   cfg.Worker.Concurrency,
		CommitOnSuccessOnly: cfg.Worker.CommitOnSuccessOnly,
	}, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise worker engine")
	}

	healthSrv := health.NewServer(fmt.Sprintf(":%d", cfg.App.Port), checks, logger.Component(log, "health"),
		health.WithCheckTimeout(time.Duration(cfg.Health.CheckTimeoutMs)*time.Millisecond),
		health.WithHandlerTimeout(time.Duration(cfg.Health.HandlerTimeoutMs)*time.Millisecond),
	)

	errCh := make(chan error, 2)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		topics := []string{cfg.Topics.Request}
		if err := cons.Consume(ctx, topics, worker.KafkaHandler(engine, cons)); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	log.Info().
		Str("request_topic", cfg.Topics.Request).
		Str("api_url", backend.APIURL()).
		Str("transport", cfg.Sendinblue.Transport).
		Msg("email worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("email worker terminated with error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := engine.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight sends did not finish before shutdown")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop health server")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("email worker init failed")
}
