// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/listenflow/internal/config"
	"github.com/tomtom215/listenflow/internal/logging"
	"github.com/tomtom215/listenflow/internal/models"
)

// Stream transports.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// StreamReader drains a Watermill topic. Every read subscribes from the
// beginning of the retained stream, so reads are restartable; the watermark
// filter drops what was already ingested.
type StreamReader struct {
	cfg        *config.SourceConfig
	topic      string
	idle       time.Duration
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	// seed publishes simulated listens once for the memory transport.
	seed     func(ctx context.Context) error
	seedOnce sync.Once
	seedErr  error
}

// NewStreamReader builds the transport named by cfg.Stream.Transport. The
// memory transport is an in-process persistent channel filled by the
// simulator on first read.
func NewStreamReader(cfg *config.SourceConfig) (*StreamReader, error) {
	logger := logging.NewWatermillLogger("stream")

	switch cfg.Stream.Transport {
	case TransportNATS:
		sub, err := NewNATSSubscriber(&cfg.Stream, logger)
		if err != nil {
			return nil, err
		}
		return NewSubscriberReader(cfg, sub), nil

	case TransportMemory, "":
		sim, err := NewSimulator(cfg.Stream.Simulate)
		if err != nil {
			return nil, err
		}
		ch := NewMemoryPubSub(logger)
		r := NewSubscriberReader(cfg, ch)
		r.seed = func(ctx context.Context) error {
			n, err := sim.Publish(ctx, ch, cfg.Stream.Topic)
			if err == nil {
				logging.Ctx(ctx).Debug().Int("listens", n).Str("topic", cfg.Stream.Topic).Msg("Published simulated listens")
			}
			return err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown stream transport %q", cfg.Stream.Transport)
	}
}

// NewSubscriberReader reads from an existing subscriber, which the reader
// then owns.
func NewSubscriberReader(cfg *config.SourceConfig, sub message.Subscriber) *StreamReader {
	idle := cfg.Stream.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Second
	}
	return &StreamReader{
		cfg:        cfg,
		topic:      cfg.Stream.Topic,
		idle:       idle,
		subscriber: sub,
		logger:     logging.NewWatermillLogger("stream"),
	}
}

// NewMemoryPubSub returns a persistent in-process pub/sub. Late subscribers
// receive every message published so far.
func NewMemoryPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          true,
	}, logger)
}

// NewNATSSubscriber creates a JetStream subscriber that replays the whole
// stream on every subscription. No durable consumer is kept; the watermark
// is the only cursor.
func NewNATSSubscriber(cfg *config.StreamSourceConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.Timeout(5 * time.Second),
		natsgo.MaxReconnects(3),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Stream subscriber disconnected", err, nil)
			}
		}),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverAll(),
				natsgo.AckExplicit(),
			},
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, models.SourceUnavailable("connect_stream", fmt.Errorf("create watermill subscriber: %w", err))
	}
	return sub, nil
}

// NewNATSPublisher creates a JetStream publisher for the listen topic. Message
// IDs are sent as Nats-Msg-Id so a repeated publish is deduplicated.
func NewNATSPublisher(cfg *config.StreamSourceConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	wmConfig := wmNats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.Timeout(5 * time.Second),
			natsgo.MaxReconnects(3),
			natsgo.ReconnectWait(time.Second),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return pub, nil
}

// Kind implements Reader.
func (r *StreamReader) Kind() models.SourceKind { return models.SourceStream }

// Close closes the subscriber.
func (r *StreamReader) Close() error {
	return r.subscriber.Close()
}

// ReadSince implements Reader. It drains the topic until no message arrives
// for the idle timeout, then returns the in-window records in event order.
func (r *StreamReader) ReadSince(ctx context.Context, since *time.Time) (Iterator, error) {
	if r.seed != nil {
		r.seedOnce.Do(func() { r.seedErr = r.seed(ctx) })
		if r.seedErr != nil {
			return nil, models.SourceUnavailable("seed_stream", r.seedErr)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := r.subscriber.Subscribe(subCtx, r.topic)
	if err != nil {
		return nil, models.SourceUnavailable("subscribe", fmt.Errorf("subscribe to %s: %w", r.topic, err))
	}

	start := time.Now()
	var records []models.RawRecord

	idle := time.NewTimer(r.idle)
	defer idle.Stop()

drain:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-idle.C:
			break drain
		case msg, ok := <-messages:
			if !ok {
				break drain
			}
			origin := fmt.Sprintf("%s:%s", r.topic, msg.UUID)
			records = append(records, decodeObject(msg.Payload, models.SourceStream, origin))
			msg.Ack()
			idle.Reset(r.idle)
		}
	}

	ordered := NewWindow(since, r.cfg).Apply(records)

	logging.Ctx(ctx).Debug().
		Str("topic", r.topic).
		Int("received", len(records)).
		Int("in_window", len(ordered)).
		Dur("elapsed", time.Since(start)).
		Msg("Drained stream")

	return newSliceIterator(ordered), nil
}
