package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

	"github.com/fieldops/resilience/internal/config"
	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
	fallbackUseCase "github.com/fieldops/resilience/internal/fallback/usecase"
)

// Action kinds served by the built-in providers.
const (
	KindStampInvoice  = "tax.stamp_invoice"
	KindChargePayment = "payments.charge"
	KindSendMessage   = "messaging.send"
)

// Built-in service names.
const (
	ServiceTaxAuthority = "tax_authority"
	ServicePayments     = "payments"
	ServiceMessaging    = "messaging"
)

// Providers owns the resources opened for the built-in providers.
type Providers struct {
	topics []*pubsub.Topic
}

// Register adds the built-in kinds to registry. A service without an endpoint is
// skipped. The caller must Shutdown the returned Providers.
func Register(
	ctx context.Context,
	registry *fallbackUseCase.Registry,
	policies *config.Policies,
	client *http.Client,
	logger *slog.Logger,
) (*Providers, error) {
	p := &Providers{}

	tax := policies.Service(ServiceTaxAuthority)
	payments := policies.Service(ServicePayments)
	messaging := policies.Service(ServiceMessaging)

	var messagingFallback fallbackDomain.Fallback
	if messaging.FallbackTopicURL != "" {
		topic, err := pubsub.OpenTopic(ctx, messaging.FallbackTopicURL)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to open messaging backup topic")
		}
		p.topics = append(p.topics, topic)
		messagingFallback = TopicFallback(topic, time.Now)
	}

	var paymentsFallback fallbackDomain.Fallback
	if payments.FallbackEndpoint != "" {
		paymentsFallback = AlternateEndpointFallback(client, payments.FallbackEndpoint)
	}

	entries := []struct {
		kind     string
		policy   config.ServicePolicy
		fallback fallbackDomain.Fallback
	}{
		{KindStampInvoice, tax, TaxDraftFallback(time.Now)},
		{KindChargePayment, payments, paymentsFallback},
		{KindSendMessage, messaging, messagingFallback},
	}

	for _, e := range entries {
		if e.policy.Endpoint == "" {
			logger.Warn("provider endpoint not configured, kind disabled",
				slog.String("kind", e.kind),
				slog.String("service", e.policy.Name),
			)
			continue
		}
		err := registry.Register(e.kind, fallbackUseCase.Registration{
			Service:   e.policy.Name,
			Operation: HTTPOperation(client, e.policy.Endpoint),
			Fallback:  e.fallback,
		})
		if err != nil {
			_ = p.Shutdown(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	return p, nil
}

// Shutdown flushes and closes opened topics.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, topic := range p.topics {
		if err := topic.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.topics = nil
	return apperrors.Join(errs...)
}
