// Crescendo - Listening Event Aggregation and Recommendation Scoring
// Copyright 2026 Crescendo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crescendo-audio/crescendo

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crescendo-audio/crescendo/internal/ingest"
)

// IngestService runs the event pipeline against a message source under
// supervision. If the subscription drops, suture restarts the service
// and the durable consumer resumes from its last acked position.
type IngestService struct {
	pipeline *ingest.Pipeline
	source   ingest.MessageSource
	topic    string
	logger   zerolog.Logger
	name     string
}

// NewIngestService creates an ingest service consuming topic.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewIngestService(pipeline *ingest.Pipeline, source ingest.MessageSource, topic string, logger zerolog.Logger) *IngestService {
	return &IngestService{
		pipeline: pipeline,
		source:   source,
		topic:    topic,
		logger:   logger.With().Str("service", "ingest").Logger(),
		name:     "ingest-service",
	}
}

// Serve implements suture.Service.
func (s *IngestService) Serve(ctx context.Context) error {
	s.logger.Info().Str("topic", s.topic).Msg("ingest service starting")

	err := s.pipeline.Run(ctx, s.source, s.topic)
	if errors.Is(err, context.Canceled) {
		s.logger.Info().Msg("ingest service shutting down")
		return err
	}
	if err != nil {
		return fmt.Errorf("event pipeline stopped: %w", err)
	}
	// Channel closed without cancellation: let suture restart us.
	return fmt.Errorf("event subscription closed unexpectedly")
}

// String returns the service name for logging.
func (s *IngestService) String() string {
	return s.name
}
