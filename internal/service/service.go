// Package service drives the queue poll loop that feeds notification
// processing.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"buybox-watcher/internal/queue"
	"buybox-watcher/internal/router"
)

// Handler processes one raw notification body to a terminal result.
type Handler interface {
	Handle(ctx context.Context, body []byte) router.Result
}

// Options tune poll loop behaviour.
type Options struct {
	MaxMessages int32
	WaitTime    time.Duration
	Workers     int
	IdleBackoff time.Duration
}

// Service receives queue messages in batches and hands each one to the
// handler on a bounded worker pool. A message is acknowledged only after
// the handler reached a terminal outcome; deferred messages stay on the
// queue and come back via redelivery.
type Service struct {
	opts    Options
	gateway queue.Gateway
	handler Handler
	logger  zerolog.Logger
}

// New constructs a Service instance.
func New(opts Options, gateway queue.Gateway, handler Handler, logger zerolog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 5 * time.Second
	}
	return &Service{
		opts:    opts,
		gateway: gateway,
		handler: handler,
		logger:  logger.With().Str("component", "poll_loop").Logger(),
	}
}

// Run blocks, polling the queue until ctx is cancelled. Receive errors are
// logged and retried after a backoff; they never terminate the loop.
func (s *Service) Run(ctx context.Context) error {
	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup

	s.logger.Info().
		Int("workers", s.opts.Workers).
		Int32("max_messages", s.opts.MaxMessages).
		Msg("poll loop started")

	for {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			s.logger.Info().Msg("poll loop stopped")
			return err
		}

		messages, err := s.gateway.Receive(ctx, s.opts.MaxMessages, s.opts.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error().Err(err).Msg("receive failed, backing off")
			s.sleep(ctx, s.opts.IdleBackoff)
			continue
		}

		for _, msg := range messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				s.logger.Info().Msg("poll loop stopped")
				return ctx.Err()
			}

			wg.Add(1)
			go func(m queue.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				s.process(ctx, m)
			}(msg)
		}
	}
}

func (s *Service) process(ctx context.Context, msg queue.Message) {
	result := s.handler.Handle(ctx, msg.Body)

	switch result.Outcome {
	case router.OutcomeProcessed, router.OutcomeDropped:
		if err := s.gateway.Delete(ctx, msg.ReceiptHandle); err != nil {
			// 删除失败时消息会重投, 处理端靠 event_id 去重。
			s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("delete failed")
			return
		}
		s.logger.Debug().
			Str("message_id", msg.ID).
			Str("outcome", result.Outcome.String()).
			Str("reason", result.Reason).
			Msg("message acknowledged")
	case router.OutcomeDeferred:
		s.logger.Warn().
			Str("message_id", msg.ID).
			Str("reason", result.Reason).
			Msg("message deferred, awaiting redelivery")
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
