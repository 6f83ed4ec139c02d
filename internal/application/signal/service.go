// Package signal admits external events into the core: webhook ingress with
// signature verification and declarative payload mapping, direct signal
// emission, and dead-lettering of signals nothing consumed.
package signal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/pkg/models"
)

// Waker nudges the worker loop after a signal is admitted.
type Waker interface {
	Wake()
}

// Config holds the signal layer tunables.
type Config struct {
	// TTL bounds how long an unconsumed signal stays matchable before it
	// moves to the dead-letter area.
	TTL time.Duration
}

// DefaultConfig returns the signal layer defaults.
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour}
}

// Service is the signal & webhook ingress layer.
type Service struct {
	store     repository.Store
	observers *observer.Manager
	log       *logger.Logger
	waker     Waker
	cfg       Config
}

// NewService creates the signal layer.
func NewService(store repository.Store, observers *observer.Manager, log *logger.Logger, cfg Config) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Service{
		store:     store,
		observers: observers,
		log:       log,
		cfg:       cfg,
	}
}

// SetWaker installs the worker wake hook.
func (s *Service) SetWaker(w Waker) {
	s.waker = w
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

// IngestWebhook verifies and admits a raw webhook delivery. Verification
// happens before any state mutation. The return value is the number of
// subscriptions that matched (the receipt).
func (s *Service) IngestWebhook(ctx context.Context, connectorSlug, triggerID string, rawBody []byte, signature string) (int, error) {
	subs, err := s.store.Subscriptions().FindByTrigger(ctx, connectorSlug, triggerID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, models.ErrSubscriptionNotFound
	}

	matched := 0
	for _, sub := range subs {
		if err := VerifySignature(sub.Secret, sub.Algorithm, rawBody, signature); err != nil {
			s.log.Warn("webhook signature rejected",
				"connector", connectorSlug, "trigger_id", triggerID, "subscription", sub.ID)
			continue
		}

		signalData := MapPayload(sub.Mapping, rawBody)
		signal := &models.Signal{
			ID:          uuid.New().String(),
			ExecutionID: sub.ExecutionID,
			SignalType:  sub.SignalType,
			SignalData:  signalData,
			ReceivedAt:  time.Now(),
		}
		if err := s.store.Signals().Append(ctx, signal); err != nil {
			return matched, err
		}
		matched++

		if s.observers != nil {
			s.observers.Notify(ctx, observer.Event{
				Type:        observer.EventTypeSignalReceived,
				ExecutionID: sub.ExecutionID,
				Data: map[string]interface{}{
					"signal_type": sub.SignalType,
					"connector":   connectorSlug,
				},
			})
		}
	}

	if matched == 0 {
		return 0, models.ErrInvalidSignature
	}
	s.wake()
	return matched, nil
}

// MapPayload extracts signal data from the raw payload via dot paths.
// Missing paths map to nil. An empty mapping passes the whole decoded
// payload through.
func MapPayload(mapping map[string]string, rawBody []byte) map[string]interface{} {
	if len(mapping) == 0 {
		decoded, ok := gjson.ParseBytes(rawBody).Value().(map[string]interface{})
		if !ok {
			return map[string]interface{}{"payload": string(rawBody)}
		}
		return decoded
	}

	out := make(map[string]interface{}, len(mapping))
	for key, path := range mapping {
		value := gjson.GetBytes(rawBody, path)
		if !value.Exists() {
			out[key] = nil
			continue
		}
		out[key] = value.Value()
	}
	return out
}

// SweepExpired dead-letters signals older than the TTL. Called periodically
// by the worker.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	moved, err := s.store.Signals().DeadLetterExpired(ctx, s.cfg.TTL, now, "no matching execution within TTL")
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.log.Info("dead-lettered expired signals", "count", moved)
	}
	return moved, nil
}
