package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/kassa/internal/llm"
	"github.com/soyeahso/kassa/internal/logging"
)

// FailoverClient is an llm.Client that tries the primary model first, then
// each fallback model in order on retryable errors.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a failover client over registry.
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name implements llm.Client.
func (f *FailoverClient) Name() string { return "failover" }

// Complete tries the primary model, falling back on retryable errors. The
// request's Model is overwritten with each candidate in turn. Once a
// provider rejects the credentials, its other models are skipped.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	models := append([]string{f.primary}, f.fallbacks...)

	var lastErr error
	rejected := make(map[string]bool) // provider name → credentials refused
	for _, model := range models {
		client, name, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}
		if rejected[client.Name()] {
			f.log.Debug().Str("model", model).Str("provider", client.Name()).Msg("provider refused credentials, skipping")
			continue
		}

		req.Model = name
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if isAuthError(err) {
			rejected[client.Name()] = true
		}
		if isRetryable(err) {
			f.log.Warn().
				Str("model", model).
				Err(err).
				Msg("retryable error, trying next model")
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

// isRetryable reports whether err suggests trying another model: auth and
// rate-limit statuses, server errors, and overload or timeout messages.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}

func isAuthError(err error) bool {
	var provErr *llm.ProviderError
	return errors.As(err, &provErr) && (provErr.Code == 401 || provErr.Code == 403)
}
