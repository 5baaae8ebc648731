package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/worldsio/detectbridge/rawhttp"
)

var testCreds = Credentials{TokenID: "token-id", TokenValue: "token-secret"}

func newTestClient(t *testing.T, url string, options ...ClientOption) *Client {
	t.Helper()

	options = append([]ClientOption{WithBackoff(time.Millisecond, 4*time.Millisecond)}, options...)
	client, err := NewClient(url, testCreds, options...)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	t.Cleanup(client.httpClient.CloseIdleConnections)
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("should reject non-http endpoints", func(t *testing.T) {
		for _, endpoint := range []string{"", "ws://api.example.com/graphql", "https://", "::"} {
			if _, err := NewClient(endpoint, testCreds); !errors.Is(err, ErrInvalidEndpoint) {
				t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrInvalidEndpoint, err)
			}
		}
	})

	t.Run("should reject negative retries", func(t *testing.T) {
		if _, err := NewClient("https://api.example.com/graphql", testCreds, WithRetries(-1)); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})
}

func TestClient_Do(t *testing.T) {
	t.Run("should post the operation with the token headers", func(t *testing.T) {
		var got struct {
			Method      string
			TokenID     string
			TokenValue  string
			ContentType string
			Body        Request
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.Method = r.Method
			got.TokenID = r.Header.Get(HeaderTokenID)
			got.TokenValue = r.Header.Get(HeaderTokenValue)
			got.ContentType = r.Header.Get("Content-Type")
			json.NewDecoder(r.Body).Decode(&got.Body)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"devices":{"edges":[{"node":{"id":"cam-1"}}]}}}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		var out struct {
			Devices struct {
				Edges []struct {
					Node struct {
						ID string `json:"id"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"devices"`
		}
		req := Request{
			Query:         "query GetDevices($first: Int) { devices(first: $first) { edges { node { id } } } }",
			Variables:     map[string]any{"first": float64(100)},
			OperationName: "GetDevices",
		}
		if err := client.Do(context.Background(), req, &out); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if got.Method != http.MethodPost {
			t.Fatalf("\nwanted:\nPOST\ngot:\n%v", got.Method)
		}
		if got.TokenID != "token-id" || got.TokenValue != "token-secret" {
			t.Fatalf("\nwanted:\ntoken headers\ngot:\n%q %q", got.TokenID, got.TokenValue)
		}
		if got.ContentType != "application/json" {
			t.Fatalf("\nwanted:\napplication/json\ngot:\n%v", got.ContentType)
		}
		if diff := cmp.Diff(req, got.Body); diff != "" {
			t.Fatalf("request mismatch (-want +got):\n%s", diff)
		}
		if len(out.Devices.Edges) != 1 || out.Devices.Edges[0].Node.ID != "cam-1" {
			t.Fatalf("\nwanted:\ncam-1\ngot:\n%+v", out)
		}
	})

	t.Run("should decode data and return a ResponseError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"createEvent":{"id":"evt-1"}},"errors":[{"message":"metadata ignored","path":["createEvent","metadata"]}]}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		var out struct {
			CreateEvent struct {
				ID string `json:"id"`
			} `json:"createEvent"`
		}
		err := client.Do(context.Background(), Request{Query: "mutation { createEvent }"}, &out)

		var respErr *ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("\nwanted:\n*ResponseError\ngot:\n%v", err)
		}
		if respErr.Errors[0].Message != "metadata ignored" {
			t.Fatalf("\nwanted:\nmetadata ignored\ngot:\n%v", respErr.Errors[0].Message)
		}
		if !strings.Contains(err.Error(), "createEvent.metadata") {
			t.Fatalf("\nwanted:\npath in message\ngot:\n%v", err)
		}
		if out.CreateEvent.ID != "evt-1" {
			t.Fatalf("\nwanted:\nevt-1\ngot:\n%v", out.CreateEvent.ID)
		}
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"bad token"}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, WithRetries(3))
		err := client.Do(context.Background(), Request{Query: "{ devices { edges { cursor } } }"}, nil)

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("\nwanted:\n*HTTPError\ngot:\n%v", err)
		}
		if httpErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", http.StatusUnauthorized, httpErr.StatusCode)
		}
		if !strings.Contains(httpErr.Body, "\"message\": \"bad token\"") {
			t.Fatalf("\nwanted:\nprettified body\ngot:\n%v", httpErr.Body)
		}
		if got := attempts.Load(); got != 1 {
			t.Fatalf("\nwanted:\n1\ngot:\n%d", got)
		}
	})

	t.Run("should retry transient failures", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"data":{}}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, WithRetries(3))
		if err := client.Do(context.Background(), Request{Query: "{ devices { edges { cursor } } }"}, nil); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got := attempts.Load(); got != 3 {
			t.Fatalf("\nwanted:\n3\ngot:\n%d", got)
		}
	})

	t.Run("should give up after the configured retries", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, WithRetries(2))
		err := client.Do(context.Background(), Request{Query: "{ devices { edges { cursor } } }"}, nil)

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Temporary() {
			t.Fatalf("\nwanted:\ntemporary *HTTPError\ngot:\n%v", err)
		}
		if got := attempts.Load(); got != 3 {
			t.Fatalf("\nwanted:\n3\ngot:\n%d", got)
		}
	})

	t.Run("should stop retrying when the context is cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, WithRetries(5), WithBackoff(time.Hour, time.Hour))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := client.Do(ctx, Request{Query: "{ devices { edges { cursor } } }"}, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", context.DeadlineExceeded, err)
		}
	})

	t.Run("should decode compressed responses", func(t *testing.T) {
		payload := []byte(`{"data":{"ok":true}}`)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
				w.WriteHeader(http.StatusNotAcceptable)
				return
			}
			w.Header().Set("Content-Encoding", "br")
			w.Write(compressed(t, "br", payload))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		var out struct {
			OK bool `json:"ok"`
		}
		if err := client.Do(context.Background(), Request{Query: "{ ok }"}, &out); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if !out.OK {
			t.Fatalf("\nwanted:\ntrue\ngot:\nfalse")
		}
	})

	t.Run("should trace exchanges without the token value", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"ok":true}}`))
		}))
		defer server.Close()

		var traced []rawhttp.Dump
		client := newTestClient(t, server.URL, WithTrace(func(request, response rawhttp.Dump) {
			traced = append(traced, request, response)
		}))

		if err := client.Do(context.Background(), Request{Query: "{ ok }"}, nil); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if len(traced) != 2 {
			t.Fatalf("\nwanted:\n2\ngot:\n%d", len(traced))
		}
		if strings.Contains(string(traced[0].Raw), "token-secret") {
			t.Fatalf("\nwanted:\nredacted token\ngot:\n%s", traced[0].Raw)
		}
		if !strings.Contains(traced[1].Pretty, "\"ok\": true") {
			t.Fatalf("\nwanted:\nprettified response\ngot:\n%s", traced[1].Pretty)
		}
	})
}
