package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/graphql"
	"go.uber.org/zap"
)

const (
	// DevicePageSize is the page size used when listing devices.
	DevicePageSize = 100
	// DefaultTagLimit is the number of detections returned by FetchDetectionsByTag when first is not positive.
	DefaultTagLimit = 30

	maxDevicePages = 1000
)

var (
	// ErrNoSubscriber is returned by SubscribeDetections when the client was built without a Subscriber.
	ErrNoSubscriber = errors.New("no subscription endpoint configured")
	// ErrEmptyResult is returned when a mutation succeeds without returning the created object.
	ErrEmptyResult = errors.New("empty mutation result")
)

// DetectionHandler receives every detectionActivity pushed by a subscription.
// Returning an error ends the subscription.
type DetectionHandler func(activity *domain.DetectionActivity) error

// Client runs the detection API operations.
type Client struct {
	gql        *graphql.Client
	subscriber *graphql.Subscriber
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSubscriber enables SubscribeDetections.
func WithSubscriber(subscriber *graphql.Subscriber) Option {
	return func(c *Client) {
		c.subscriber = subscriber
	}
}

// WithLogger sets the logger used for dropped subscription payloads.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a Client sending queries and mutations through gql.
func New(gql *graphql.Client, options ...Option) *Client {
	c := &Client{gql: gql, logger: zap.NewNop()}
	for _, option := range options {
		option(c)
	}
	return c
}

type pageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
}

type connection[T any] struct {
	Edges []struct {
		Cursor string `json:"cursor"`
		Node   T      `json:"node"`
	} `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

func (c connection[T]) nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, edge := range c.Edges {
		nodes = append(nodes, edge.Node)
	}
	return nodes
}

// FetchDevices lists every device, following pagination until the last page.
func (c *Client) FetchDevices(ctx context.Context) ([]domain.Device, error) {
	devices := []domain.Device{}
	var after *string
	for page := 0; page < maxDevicePages; page++ {
		var out struct {
			Devices connection[domain.Device] `json:"devices"`
		}
		req := graphql.Request{
			Query:         DevicesQuery,
			OperationName: "GetDevices",
			Variables:     map[string]any{"first": DevicePageSize, "after": after},
		}
		if err := c.gql.Do(ctx, req, &out); err != nil {
			return nil, fmt.Errorf("fetching devices : %w", err)
		}
		devices = append(devices, out.Devices.nodes()...)

		next := out.Devices.PageInfo.EndCursor
		if !out.Devices.PageInfo.HasNextPage || next == "" || (after != nil && *after == next) {
			return devices, nil
		}
		after = &next
	}
	return nil, fmt.Errorf("fetching devices : more than %d pages", maxDevicePages)
}

// FetchTracks lists the tracks active between start and end.
func (c *Client) FetchTracks(ctx context.Context, start, end time.Time) ([]domain.Track, error) {
	var out struct {
		Tracks connection[domain.Track] `json:"tracks"`
	}
	req := graphql.Request{
		Query:         TracksQuery,
		OperationName: "GetDetailedTracks",
		Variables:     timeWindow(start, end),
	}
	if err := c.gql.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("fetching tracks : %w", err)
	}
	return out.Tracks.nodes(), nil
}

// FetchDetectionsByTimeRange lists the detections between start and end, oldest first.
func (c *Client) FetchDetectionsByTimeRange(ctx context.Context, start, end time.Time) ([]domain.TrackDetection, error) {
	var out struct {
		Detections connection[domain.TrackDetection] `json:"detections"`
	}
	req := graphql.Request{
		Query:         DetectionsByTimeRangeQuery,
		OperationName: "GetDetectionsByTimeRange",
		Variables:     timeWindow(start, end),
	}
	if err := c.gql.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("fetching detections by time range : %w", err)
	}
	return out.Detections.nodes(), nil
}

// FetchDetectionsByTag lists the latest detections of tracks tagged tag.
func (c *Client) FetchDetectionsByTag(ctx context.Context, tag string, first int) ([]domain.TrackDetection, error) {
	if first <= 0 {
		first = DefaultTagLimit
	}
	var out struct {
		Detections connection[domain.TrackDetection] `json:"detections"`
	}
	req := graphql.Request{
		Query:         DetectionsByTagQuery,
		OperationName: "GetDetectionsByTag",
		Variables:     map[string]any{"tag": tag, "first": first},
	}
	if err := c.gql.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("fetching %q detections : %w", tag, err)
	}
	return out.Detections.nodes(), nil
}

// CreateEventProducer creates a producer. The producer is sent as an inline
// input literal so the input type name does not need to be known.
func (c *Client) CreateEventProducer(ctx context.Context, input domain.EventProducerInput) (*domain.EventProducer, error) {
	fields := map[string]any{
		"name":        input.Name,
		"description": input.Description,
		"active":      input.Active,
	}
	if len(input.Metadata) > 0 {
		fields["metadata"] = input.Metadata
	}
	literal, err := graphql.Literal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding event producer : %w", err)
	}

	var out struct {
		CreateEventProducer *domain.EventProducer `json:"createEventProducer"`
	}
	req := graphql.Request{
		Query:         fmt.Sprintf(createEventProducerMutation, literal),
		OperationName: "CreateEventProducer",
	}
	if err := c.gql.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("creating event producer : %w", err)
	}
	if out.CreateEventProducer == nil {
		return nil, fmt.Errorf("creating event producer : %w", ErrEmptyResult)
	}
	return out.CreateEventProducer, nil
}

// CreateEvent creates an event owned by input.EventProducerID.
func (c *Client) CreateEvent(ctx context.Context, input domain.EventInput) (*domain.Event, error) {
	var out struct {
		CreateEvent *domain.Event `json:"createEvent"`
	}
	req := graphql.Request{
		Query:         CreateEventMutation,
		OperationName: "CreateEvent",
		Variables:     map[string]any{"input": input},
	}
	if err := c.gql.Do(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("creating %s event : %w", input.Type, err)
	}
	if out.CreateEvent == nil {
		return nil, fmt.Errorf("creating %s event : %w", input.Type, ErrEmptyResult)
	}
	return out.CreateEvent, nil
}

// SubscriptionID is the graphql-transport-ws operation id used for a device.
func SubscriptionID(deviceID string) string {
	return "sub_" + deviceID
}

// SubscribeDetections streams the detectionActivity of deviceID to handler
// until ctx is cancelled or the subscription ends. Errors follow
// graphql.Subscriber.Subscribe.
func (c *Client) SubscribeDetections(ctx context.Context, deviceID string, handler DetectionHandler) error {
	if c.subscriber == nil {
		return ErrNoSubscriber
	}

	req := graphql.Request{
		Query:         DetectionActivitySubscription,
		OperationName: "OnDeviceDetection",
		Variables:     map[string]any{"deviceId": deviceID},
	}
	return c.subscriber.Subscribe(ctx, SubscriptionID(deviceID), req, func(payload *graphql.Response) error {
		if len(payload.Errors) > 0 {
			c.logger.Warn("subscription payload carries errors",
				zap.String("device_id", deviceID),
				zap.Error(&graphql.ResponseError{Errors: payload.Errors}))
		}

		var data struct {
			DetectionActivity *domain.DetectionActivity `json:"detectionActivity"`
		}
		if len(payload.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			c.logger.Warn("dropping undecodable detection", zap.String("device_id", deviceID), zap.Error(err))
			return nil
		}
		if data.DetectionActivity == nil {
			return nil
		}
		return handler(data.DetectionActivity)
	})
}

func timeWindow(start, end time.Time) map[string]any {
	return map[string]any{
		"start": start.UTC().Format(time.RFC3339Nano),
		"end":   end.UTC().Format(time.RFC3339Nano),
	}
}
