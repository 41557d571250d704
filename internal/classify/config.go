package classify

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/model"
)

// NewFromConfig builds the configured transport behind a rate limiter and
// a retrying Gateway.
func NewFromConfig(cfg model.ClassifierConfig, apiKey string, obs Observer, logger *zap.Logger) (*Gateway, error) {
	client := &http.Client{}

	var transport Classifier
	switch cfg.Kind {
	case "", "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("classifier: url is required for kind http")
		}
		transport = NewHTTPClassifier(cfg.URL, apiKey, client)
	case "llm":
		if apiKey == "" {
			return nil, fmt.Errorf("classifier: api key is required for kind llm")
		}
		transport = NewLLMClassifier(apiKey, cfg.URL, cfg.Model, cfg.MaxTokens, client)
	default:
		return nil, fmt.Errorf("classifier: unknown kind %q", cfg.Kind)
	}

	return NewGateway(NewRateLimited(transport, cfg.RatePerMinute), GatewayOptions{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Observer:   obs,
		Logger:     logger,
	}), nil
}
