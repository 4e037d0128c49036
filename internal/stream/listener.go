package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ListenOptions configure a Listener.
type ListenOptions struct {
	// BatchSize is the maximum number of entries fetched per poll.
	BatchSize int

	// Concurrency caps parallel handler invocations within a batch.
	Concurrency int

	// ClaimIdleThreshold is how long a pending entry must be idle
	// before a reclamation pass may take it over.
	ClaimIdleThreshold time.Duration

	// MaxRetries is the delivery-attempt ceiling. An entry whose
	// handler fails on its MaxRetries-th delivery is acknowledged
	// anyway (dead-lettered) to stop infinite redelivery.
	MaxRetries int

	// PollDelay is the backoff between empty polls.
	PollDelay time.Duration

	// ClaimInterval is how often the loop runs a reclamation pass while
	// polling. Zero disables periodic reclamation (startup pass only).
	ClaimInterval time.Duration

	// CreateStreamIfMissing creates the stream and consumer group on
	// start, tolerating an already existing group.
	CreateStreamIfMissing bool

	// ClaimPendingOnStartup runs one reclamation pass before normal
	// polling begins, recovering work from a crashed predecessor.
	ClaimPendingOnStartup bool
}

// DefaultListenOptions returns ListenOptions with reasonable defaults.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		BatchSize:             8,
		Concurrency:           4,
		ClaimIdleThreshold:    time.Minute,
		MaxRetries:            3,
		PollDelay:             500 * time.Millisecond,
		ClaimInterval:         time.Minute,
		CreateStreamIfMissing: true,
		ClaimPendingOnStartup: true,
	}
}

// Listener is a background loop polling one (stream, group, consumer)
// triple and fanning entries out to a handler under a concurrency cap.
// Entries are acknowledged when the handler reports success; failed
// entries stay pending until reclaimed, and are dead-lettered once their
// persisted delivery count reaches MaxRetries.
type Listener struct {
	log       Log
	streamKey string
	group     string
	consumer  string
	handler   Handler
	opts      ListenOptions

	// ctx controls the polling loop only. handlerCtx is what handlers
	// receive; Stop must never cancel it, so entries already dispatched
	// run to natural completion instead of failing into redelivery.
	ctx           context.Context
	cancelFunc    context.CancelFunc
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewListener creates a Listener. The loop does not run until Start is
// called. If logger is nil, the default logger is used.
func NewListener(log Log, streamKey, group, consumer string, handler Handler, opts ListenOptions, logger *slog.Logger) *Listener {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.PollDelay <= 0 {
		opts.PollDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	handlerCtx, handlerCancel := context.WithCancel(context.Background())

	return &Listener{
		log:           log,
		streamKey:     streamKey,
		group:         group,
		consumer:      consumer,
		handler:       handler,
		opts:          opts,
		ctx:           ctx,
		cancelFunc:    cancel,
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
		logger: logger.With(
			"component", "stream_listener",
			"stream", streamKey,
			"group", group,
			"consumer", consumer,
		),
	}
}

// Start ensures the consumer group exists, optionally reclaims stuck
// entries, and launches the polling loop.
func (l *Listener) Start() error {
	if l.opts.CreateStreamIfMissing {
		if err := l.log.CreateGroup(l.ctx, l.streamKey, l.group); err != nil {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	if l.opts.ClaimPendingOnStartup {
		claimed, err := l.log.Claim(l.ctx, l.streamKey, l.group, l.consumer, l.opts.ClaimIdleThreshold)
		if err != nil {
			return fmt.Errorf("startup reclamation failed: %w", err)
		}
		if claimed > 0 {
			l.logger.Info("reclaimed stuck entries on startup", "claimed", claimed)
		}
	}

	l.wg.Add(1)
	go l.run()

	return nil
}

// Stop halts polling and waits for the in-flight batch to finish. The
// batch is drained, not cancelled: handlers keep an uncancelled context
// until every dispatched entry has settled. No new batches are started
// after Stop is called.
func (l *Listener) Stop() {
	l.cancelFunc()
	l.wg.Wait()
	l.handlerCancel()
}

// run is the Polling <-> Dispatching loop.
func (l *Listener) run() {
	defer l.wg.Done()

	l.logger.Debug("listener started")

	nextClaim := time.Now().Add(l.opts.ClaimInterval)

	for {
		select {
		case <-l.ctx.Done():
			l.logger.Debug("listener stopped")
			return
		default:
		}

		if l.opts.ClaimInterval > 0 && time.Now().After(nextClaim) {
			nextClaim = time.Now().Add(l.opts.ClaimInterval)
			claimed, err := l.log.Claim(l.ctx, l.streamKey, l.group, l.consumer, l.opts.ClaimIdleThreshold)
			if err != nil {
				l.logger.Error("reclamation pass failed", "error", err)
			} else if claimed > 0 {
				l.logger.Info("reclaimed stuck entries", "claimed", claimed)
			}
		}

		envs, err := l.log.ReadGroup(l.ctx, l.streamKey, l.group, l.consumer, l.opts.BatchSize)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to read from stream", "error", err)
			l.sleep(l.opts.PollDelay)
			continue
		}

		if len(envs) == 0 {
			l.sleep(l.opts.PollDelay)
			continue
		}

		l.dispatch(envs)
	}
}

// dispatch runs the batch through the handler with at most Concurrency
// invocations in parallel. The batch always runs to completion, even
// when Stop has been requested mid-batch.
func (l *Listener) dispatch(envs []Envelope) {
	sem := make(chan struct{}, l.opts.Concurrency)
	var wg sync.WaitGroup

	for _, env := range envs {
		sem <- struct{}{}
		wg.Add(1)
		go func(env Envelope) {
			defer wg.Done()
			defer func() { <-sem }()
			l.handle(env)
		}(env)
	}

	wg.Wait()
}

// handle runs the handler for one envelope and settles its delivery:
// ack on success, leave pending on failure, dead-letter once the
// delivery count has reached the retry ceiling.
func (l *Listener) handle(env Envelope) {
	logger := l.logger.With(
		"entry_id", env.EntryID,
		"delivery_count", env.DeliveryCount,
	)

	ok := l.invoke(env, logger)

	if ok {
		if err := l.log.Ack(context.Background(), l.streamKey, l.group, env.EntryID); err != nil {
			logger.Error("failed to acknowledge entry", "error", err)
		}
		return
	}

	if env.DeliveryCount >= l.opts.MaxRetries {
		logger.Error("delivery attempts exhausted, dead-lettering entry",
			"max_retries", l.opts.MaxRetries)
		if err := l.log.Ack(context.Background(), l.streamKey, l.group, env.EntryID); err != nil {
			logger.Error("failed to acknowledge dead-lettered entry", "error", err)
		}
		return
	}

	logger.Warn("handler failed, leaving entry pending for redelivery")
}

// invoke calls the handler, converting a panic into a failed delivery.
func (l *Listener) invoke(env Envelope, logger *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", r)
			ok = false
		}
	}()

	return l.handler(l.handlerCtx, env)
}

// sleep waits for d or until the listener is stopped.
func (l *Listener) sleep(d time.Duration) {
	select {
	case <-l.ctx.Done():
	case <-time.After(d):
	}
}
