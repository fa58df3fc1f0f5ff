// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/aggregate"
	"github.com/crescendo-audio/crescendo/internal/event"
	"github.com/crescendo-audio/crescendo/internal/metrics"
)

// MessageSource is the subscription surface the pipeline consumes
// from. Both the NATS subscriber and Watermill's in-process gochannel
// pubsub satisfy it.
type MessageSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Pipeline decodes raw payloads, normalizes them, and applies the
// resulting events to the aggregator.
//
// Malformed or invalid payloads are acked and counted as rejected
// rather than nacked: redelivery cannot fix a bad payload and would
// poison the consumer.
type Pipeline struct {
	serializer *event.Serializer
	normalizer *event.Normalizer
	aggregator *aggregate.Aggregator
	logger     zerolog.Logger
}

// NewPipeline creates a pipeline feeding agg.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewPipeline(normalizer *event.Normalizer, agg *aggregate.Aggregator, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		serializer: event.NewSerializer(),
		normalizer: normalizer,
		aggregator: agg,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Process handles one message payload. Returns an error only for
// failures a redelivery could resolve.
func (p *Pipeline) Process(_ context.Context, payload []byte) error {
	raw, err := p.serializer.UnmarshalRaw(payload)
	if err != nil {
		metrics.IngestMessagesRejected.Inc()
		p.logger.Warn().Err(err).Msg("rejecting undecodable payload")
		return nil
	}

	ev, err := p.normalizer.Normalize(raw)
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			metrics.IngestMessagesRejected.Inc()
			p.logger.Warn().
				Str("field", verr.Field).
				Str("event_id", raw.EventID).
				Msg("rejecting invalid event")
			return nil
		}
		return fmt.Errorf("normalize event: %w", err)
	}

	p.aggregator.Apply(ev)
	metrics.IngestMessagesConsumed.Inc()
	return nil
}

// Run consumes topic from source until ctx is cancelled. Messages are
// acked on success or permanent rejection, nacked on transient failure.
func (p *Pipeline) Run(ctx context.Context, source MessageSource, topic string) error {
	messages, err := source.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	p.logger.Info().Str("topic", topic).Msg("event pipeline started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := p.Process(ctx, msg.Payload); err != nil {
				p.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("message processing failed")
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}
