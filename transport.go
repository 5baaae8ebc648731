package detectbridge

import (
	"fmt"
	"net/http"

	"github.com/worldsio/detectbridge/graphql"
	"github.com/worldsio/detectbridge/rawhttp"
	"github.com/worldsio/detectbridge/upstream"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewUpstream builds the upstream client described by cfg. The HTTP
// transport and the WebSocket dialer share the TLS settings. Subscriptions
// are only enabled when a WebSocket endpoint is configured.
func NewUpstream(cfg *Config, logger *zap.Logger) (*upstream.Client, error) {
	if err := cfg.ValidateGraphQL(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	creds := graphql.Credentials{TokenID: cfg.TokenID, TokenValue: cfg.TokenValue}
	transportConfig := graphql.TransportConfig{
		Fingerprint:        cfg.TLSFingerprint,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("tls certificate verification of the upstream api is disabled")
	}

	transport, err := graphql.NewTransport(transportConfig)
	if err != nil {
		return nil, fmt.Errorf("building transport : %w", err)
	}

	clientOptions := []graphql.ClientOption{
		graphql.WithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.Timeout}),
		graphql.WithRetries(cfg.Retries),
		graphql.WithClientLogger(logger.Named("graphql")),
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		clientOptions = append(clientOptions, graphql.WithTrace(traceLogger(logger.Named("graphql"))))
	}

	gql, err := graphql.NewClient(cfg.HTTPEndpoint, creds, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("building graphql client : %w", err)
	}

	upstreamOptions := []upstream.Option{upstream.WithLogger(logger.Named("upstream"))}
	if cfg.WSEndpoint != "" {
		dialer, err := graphql.NewDialer(transportConfig)
		if err != nil {
			return nil, fmt.Errorf("building websocket dialer : %w", err)
		}
		subscriber, err := graphql.NewSubscriber(cfg.WSEndpoint, creds,
			graphql.WithDialer(dialer),
			graphql.WithSubscriberLogger(logger.Named("subscription")),
		)
		if err != nil {
			return nil, fmt.Errorf("building subscriber : %w", err)
		}
		upstreamOptions = append(upstreamOptions, upstream.WithSubscriber(subscriber))
	}

	return upstream.New(gql, upstreamOptions...), nil
}

// traceLogger logs every GraphQL exchange at debug level.
func traceLogger(logger *zap.Logger) graphql.TraceFunc {
	return func(request, response rawhttp.Dump) {
		logger.Debug("graphql exchange",
			zap.Stringer("request", request),
			zap.Stringer("response", response))
	}
}
