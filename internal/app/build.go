package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/teleclinic/consultvoice/internal/callsession"
	"github.com/teleclinic/consultvoice/internal/config"
	"github.com/teleclinic/consultvoice/internal/consult"
	"github.com/teleclinic/consultvoice/internal/httpapi"
	"github.com/teleclinic/consultvoice/internal/observability"
	"github.com/teleclinic/consultvoice/internal/observability/logging"
	"github.com/teleclinic/consultvoice/internal/referral"
	"github.com/teleclinic/consultvoice/internal/transcript"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *consult.Registry
	Metrics  *observability.Metrics
	Provider callsession.Provider

	// ResolvedProvider names the voice backend actually in use.
	ResolvedProvider string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(_ context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	logger := logging.Component("app")

	provider, resolved, err := resolveProvider(cfg, metrics)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", resolved).Msg("voice provider resolved")

	publisher := referral.NewPublisher(referral.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		Enabled: cfg.KafkaEnabled,
	}, metrics, logging.Component("referral"))

	factory := func(callID, patientID, doctorID string) *callsession.Controller {
		tlog := transcript.NewLog()
		rec := transcript.NewReconciler(tlog, cfg.DebounceDelay, metrics, logging.WithCall("reconciler", callID))
		ctl := callsession.NewController(
			provider,
			tlog,
			rec,
			cfg.KeepAliveInterval,
			metrics,
			logging.WithCall("callsession", callID),
		)
		ctl.SetEndHook(func() {
			if err := publisher.PublishCompleted(context.Background(), callID, patientID, doctorID, tlog.All()); err != nil {
				logger.Error().Err(err).Str("callId", callID).Msg("transcript hand-off failed")
			}
		})
		return ctl
	}

	registry := consult.NewRegistry(cfg.CallInactivityTimeout, factory)
	registry.SetExpireHook(func(c *consult.Call) {
		metrics.ObserveCallEvent("expired")
		metrics.SetActiveCalls(registry.ActiveCount())
	})

	api := httpapi.New(cfg, registry, metrics, logging.Component("httpapi"))

	cleanup := func() error {
		if err := publisher.Close(); err != nil {
			return fmt.Errorf("close referral publisher: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:           cfg,
		API:              api,
		Registry:         registry,
		Metrics:          metrics,
		Provider:         provider,
		ResolvedProvider: resolved,
		Cleanup:          cleanup,
	}, nil
}

func resolveProvider(cfg config.Config, metrics *observability.Metrics) (callsession.Provider, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	tryRealtime := func() (callsession.Provider, bool, error) {
		if strings.TrimSpace(cfg.VoiceAPIKey) == "" {
			return nil, false, nil
		}
		p, err := callsession.NewRealtimeProvider(callsession.RealtimeConfig{
			WSBaseURL: cfg.VoiceWSBaseURL,
			APIKey:    cfg.VoiceAPIKey,
		}, metrics, logging.Component("realtime"))
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	}

	switch mode {
	case "realtime":
		p, ok, err := tryRealtime()
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", fmt.Errorf("VOICE_PROVIDER=realtime but VOICE_API_KEY is not set")
		}
		return p, "realtime", nil
	case "mock":
		return callsession.NewMockProvider(), "mock", nil
	case "auto":
		p, ok, err := tryRealtime()
		if err != nil {
			return nil, "", err
		}
		if ok {
			return p, "realtime", nil
		}
		return callsession.NewMockProvider(), "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|realtime|mock)", cfg.VoiceProvider)
	}
}
