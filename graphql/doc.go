// Package graphql is a small client for the upstream GraphQL API.
//
// Client sends queries and mutations over HTTP with the token headers expected
// by the API. Subscriber runs subscriptions over WebSocket using the
// graphql-transport-ws protocol. Both share the transport built by
// NewTransport and NewDialer, which can present a Chrome TLS fingerprint and
// transparently decode gzip and brotli bodies.
package graphql
