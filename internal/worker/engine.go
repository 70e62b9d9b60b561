package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
)

const releaseTimeout = 2 * time.Second

// Config contains the runtime settings of the worker engine.
type Config struct {
	Channel           string
	MsgMaxBytes       int
	WorkerConcurrency int
	// CommitOnSuccessOnly leaves records whose send failed uncommitted when
	// their DLQ record could not be written, so they are consumed again.
	CommitOnSuccessOnly bool
}

// Validator parses and validates inbound Kafka records for a channel. When
// validation fails the returned message may be nil or partially populated.
type Validator interface {
	ParseAndValidate(ctx context.Context, channel string, payload []byte) (*common.ValidatedMessage, error)
}

// StatusPublisher publishes lifecycle updates for a message.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// DLQPublisher writes failed messages to the DLQ topic.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record models.DLQRecord) error
}

// Deduplicator suppresses repeated sends of one message id.
type Deduplicator interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Adapter         common.Adapter
	Validator       Validator
	StatusPublisher StatusPublisher
	DLQPublisher    DLQPublisher
	Committer       Committer
	// Deduplicator is optional.
	Deduplicator    Deduplicator
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Engine validates inbound records, makes a single send attempt for each
// through the adapter, and reports the outcome through status events, DLQ records and
// offset commits.
type Engine struct {
	cfg             Config
	adapter         common.Adapter
	validator       Validator
	statusPublisher StatusPublisher
	dlqPublisher    DLQPublisher
	committer       Committer
	dedup           Deduplicator
	logger          zerolog.Logger

	semaphore *semaphore.Weighted

	now func() time.Time
}

// NewEngine constructs a worker engine, rejecting incomplete configuration.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.Channel == "" {
		return nil, errors.New("worker: channel must be provided")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Adapter == nil {
		return nil, errors.New("worker: adapter dependency is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("worker: validator dependency is required")
	}
	if deps.StatusPublisher == nil {
		return nil, errors.New("worker: status publisher dependency is required")
	}
	if deps.DLQPublisher == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}
	if deps.Committer == nil {
		return nil, errors.New("worker: committer dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "worker_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:             cfg,
		adapter:         deps.Adapter,
		validator:       deps.Validator,
		statusPublisher: deps.StatusPublisher,
		dlqPublisher:    deps.DLQPublisher,
		committer:       deps.Committer,
		dedup:           deps.Deduplicator,
		logger:          logger,
		semaphore:       semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:             nowFunc,
	}, nil
}

// HandleRecord checks the record size, validates the payload and hands it to
// a goroutine bounded by the concurrency semaphore.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		msg := e.partialMessageFromRecord(record)
		e.logger.Warn().
			Str("channel", msg.Channel).
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: record discarded because it exceeds configured size limit")
		e.fail(ctx, record, msg, nil, models.FailureTypeValidation, err)
		return
	}

	validated, err := e.validator.ParseAndValidate(ctx, e.cfg.Channel, record.Value)
	if validated == nil {
		validated = e.partialMessageFromRecord(record)
	}
	e.fillFromRecord(validated, record)

	if err != nil {
		e.logger.Warn().
			Str("channel", validated.Channel).
			Str("message_id", validated.MessageID).
			Err(err).
			Msg("worker: validation failed for record")
		e.fail(ctx, record, validated, nil, models.FailureTypeValidation, err)
		return
	}

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("channel", validated.Channel).
			Str("message_id", validated.MessageID).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	go e.processRecord(ctx, record.Clone(), validated)
}

// Wait blocks until every in-flight send has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	if err := e.semaphore.Acquire(ctx, int64(e.cfg.WorkerConcurrency)); err != nil {
		return err
	}
	e.semaphore.Release(int64(e.cfg.WorkerConcurrency))
	return nil
}

func (e *Engine) processRecord(ctx context.Context, record *Record, msg *common.ValidatedMessage) {
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("channel", msg.Channel).
			Str("message_id", msg.MessageID).
			Msg("worker: context cancelled before processing began")
		return
	}

	claimed, duplicate := e.claim(ctx, msg)
	if duplicate {
		e.commitRecord(ctx, record)
		return
	}

	e.publishStatus(ctx, msg, models.StatusEventQueued, nil, nil)
	e.publishStatus(ctx, msg, models.StatusEventAttempt, nil, nil)

	start := e.now()
	providerResp, err := e.adapter.Send(ctx, msg)
	duration := e.now().Sub(start)

	log := e.logger.With().
		Str("channel", msg.Channel).
		Str("message_id", msg.MessageID).
		Dur("duration", duration).
		Logger()

	if err == nil {
		log.Info().Msg("worker: message sent successfully")
		e.publishStatus(ctx, msg, models.StatusEventSent, providerResp, nil)
		e.commitRecord(ctx, record)
		return
	}

	if claimed {
		e.release(msg)
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Warn().Err(err).Msg("worker: context cancelled during send; deferring commit for reprocessing")
		return
	}

	log.Warn().Err(err).Str("classification", common.Classify(err)).Msg("worker: adapter returned error")

	failureType := models.FailureTypeUnknown
	switch {
	case errors.Is(err, common.ErrPermanent):
		failureType = models.FailureTypePermanent
	case errors.Is(err, common.ErrTransient):
		failureType = models.FailureTypeTransient
	}
	e.fail(ctx, record, msg, providerResp, failureType, err)
}

// claim reports whether the message id was claimed here and whether it had
// already been claimed by an earlier delivery. Dedup errors fail open.
func (e *Engine) claim(ctx context.Context, msg *common.ValidatedMessage) (claimed, duplicate bool) {
	if e.dedup == nil {
		return false, false
	}
	ok, err := e.dedup.Claim(ctx, msg.MessageID)
	if err != nil {
		e.logger.Warn().
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: dedup claim failed; sending without duplicate protection")
		return false, false
	}
	if !ok {
		e.logger.Info().
			Str("message_id", msg.MessageID).
			Msg("worker: skipping message that was already sent")
		return false, true
	}
	return true, false
}

// release runs on a fresh context so a cancelled send still frees its claim.
func (e *Engine) release(msg *common.ValidatedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := e.dedup.Release(ctx, msg.MessageID); err != nil {
		e.logger.Error().
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: failed to release dedup claim")
	}
}

// fail emits the failed status and the DLQ record, then commits unless the
// DLQ write failed under commit-on-success-only.
func (e *Engine) fail(ctx context.Context, record *Record, msg *common.ValidatedMessage, resp *models.ProviderResponse, failureType string, cause error) {
	e.publishStatus(ctx, msg, models.StatusEventFailed, resp, cause)

	dlqErr := e.publishDLQ(ctx, msg, resp, failureType, cause)
	if dlqErr != nil && e.cfg.CommitOnSuccessOnly {
		e.logger.Warn().
			Str("channel", msg.Channel).
			Str("message_id", msg.MessageID).
			Msg("worker: leaving offset uncommitted because the DLQ write failed")
		return
	}
	e.commitRecord(ctx, record)
}

func (e *Engine) publishStatus(ctx context.Context, msg *common.ValidatedMessage, eventType string, resp *models.ProviderResponse, cause error) {
	event := models.StatusEvent{
		MessageID:        msg.MessageID,
		Channel:          msg.Channel,
		EventType:        eventType,
		ProviderResponse: resp,
		TraceID:          msg.TraceID,
		Timestamp:        e.now(),
	}
	if eventType == models.StatusEventAttempt || eventType == models.StatusEventSent {
		event.Attempt = 1
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	if err := e.statusPublisher.PublishStatus(ctx, event); err != nil {
		e.logger.Error().
			Str("channel", msg.Channel).
			Str("message_id", msg.MessageID).
			Str("event", eventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, msg *common.ValidatedMessage, resp *models.ProviderResponse, failureType string, cause error) error {
	rec := models.DLQRecord{
		MessageID:       msg.MessageID,
		Channel:         msg.Channel,
		OriginalMessage: rawJSON(msg.RawPayload),
		FailureType:     failureType,
		FailedAt:        e.now(),
		TraceID:         msg.TraceID,
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if resp != nil {
		rec.ProviderCode = resp.Code
		rec.Meta = resp.Meta
	}

	if err := e.dlqPublisher.PublishDLQ(ctx, rec); err != nil {
		e.logger.Error().
			Str("channel", msg.Channel).
			Str("message_id", msg.MessageID).
			Err(err).
			Msg("worker: failed to publish DLQ record")
		return err
	}
	return nil
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	if err := e.committer.Commit(ctx, record); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

func (e *Engine) fillFromRecord(msg *common.ValidatedMessage, record *Record) {
	if msg.Channel == "" {
		msg.Channel = e.cfg.Channel
	}
	if msg.MessageID == "" {
		msg.MessageID = string(record.Key)
	}
	if len(msg.RawPayload) == 0 {
		msg.RawPayload = cloneBytes(record.Value)
	}
	if len(msg.Key) == 0 {
		msg.Key = cloneBytes(record.Key)
	}
	if len(msg.KafkaHeaders) == 0 && len(record.Headers) > 0 {
		msg.KafkaHeaders = cloneHeaders(record.Headers)
	}
}

func (e *Engine) partialMessageFromRecord(record *Record) *common.ValidatedMessage {
	return &common.ValidatedMessage{
		Channel:      e.cfg.Channel,
		MessageID:    string(record.Key),
		RawPayload:   cloneBytes(record.Value),
		Key:          cloneBytes(record.Key),
		KafkaHeaders: cloneHeaders(record.Headers),
	}
}

// rawJSON keeps payloads that are valid JSON as-is and quotes anything else,
// so the DLQ record always encodes.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(cloneBytes(b))
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return quoted
}
