// Package referral hands completed consult transcripts to the external
// referral and clinical-summary generator.
package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/teleclinic/consultvoice/internal/observability"
	"github.com/teleclinic/consultvoice/internal/transcript"
)

const eventTypeCompleted = "consult.transcript.completed"

// CompletedTranscript is the hand-off payload. Only finalized entries are
// included: partial hypotheses are never authoritative for summarization.
type CompletedTranscript struct {
	EventType string             `json:"event_type"`
	CallID    string             `json:"call_id"`
	PatientID string             `json:"patient_id"`
	DoctorID  string             `json:"doctor_id"`
	EndedAt   int64              `json:"ended_at_ms"`
	Entries   []transcript.Entry `json:"entries"`
}

type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher writes completed transcripts to Kafka. Without brokers it runs
// in log-only mode so the service stays usable in dev and tests.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPublisher(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("referral publisher in log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: metrics, logger: logger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("referral publisher initialized")
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, metrics: metrics, logger: logger}
}

// PublishCompleted emits the finalized transcript of one ended consult.
// Entries that never reached a final commit are filtered out; a call with
// no finalized rows publishes nothing.
func (p *Publisher) PublishCompleted(ctx context.Context, callID, patientID, doctorID string, entries []transcript.Entry) error {
	finals := make([]transcript.Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsFinal {
			finals = append(finals, e)
		}
	}
	if len(finals) == 0 {
		p.metrics.ObserveReferralPublish("skipped")
		return nil
	}

	payload, err := json.Marshal(CompletedTranscript{
		EventType: eventTypeCompleted,
		CallID:    callID,
		PatientID: patientID,
		DoctorID:  doctorID,
		EndedAt:   time.Now().UnixMilli(),
		Entries:   finals,
	})
	if err != nil {
		p.metrics.ObserveReferralPublish("error")
		return fmt.Errorf("marshal completed transcript: %w", err)
	}

	if !p.enabled {
		p.logger.Debug().Str("callId", callID).Int("entries", len(finals)).Msg("referral publish skipped (log-only)")
		p.metrics.ObserveReferralPublish("ok")
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(callID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventTypeCompleted)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.ObserveReferralPublish("error")
		p.logger.Error().Err(err).Str("callId", callID).Msg("referral publish failed")
		return fmt.Errorf("write completed transcript: %w", err)
	}

	p.metrics.ObserveReferralPublish("ok")
	p.logger.Info().Str("callId", callID).Int("entries", len(finals)).Msg("completed transcript published")
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
