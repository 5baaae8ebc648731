package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Subprotocol is the WebSocket subprotocol spoken by Subscriber.
const Subprotocol = "graphql-transport-ws"

// graphql-transport-ws message types.
const (
	typeConnectionInit = "connection_init"
	typeConnectionAck  = "connection_ack"
	typePing           = "ping"
	typePong           = "pong"
	typeSubscribe      = "subscribe"
	typeNext           = "next"
	typeError          = "error"
	typeComplete       = "complete"
)

const writeTimeout = 10 * time.Second

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NextFunc receives the payload of every next message. Returning an error
// completes the subscription and makes Subscribe return that error.
type NextFunc func(payload *Response) error

// Subscriber runs GraphQL subscriptions against a WebSocket endpoint.
type Subscriber struct {
	endpoint   string
	creds      Credentials
	dialer     *websocket.Dialer
	ackTimeout time.Duration
	logger     *zap.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber) error

// NewSubscriber creates a Subscriber for a ws or wss endpoint.
func NewSubscriber(endpoint string, creds Credentials, options ...SubscriberOption) (*Subscriber, error) {
	if err := validateEndpoint(endpoint, "ws", "wss"); err != nil {
		return nil, err
	}

	dialer, err := NewDialer(TransportConfig{})
	if err != nil {
		return nil, err
	}

	subscriber := &Subscriber{
		endpoint:   endpoint,
		creds:      creds,
		dialer:     dialer,
		ackTimeout: 10 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if err := option(subscriber); err != nil {
			return nil, fmt.Errorf("applying subscriber option : %w", err)
		}
	}
	return subscriber, nil
}

// WithDialer replaces the WebSocket dialer. The graphql-transport-ws
// subprotocol is added when missing.
func WithDialer(dialer *websocket.Dialer) SubscriberOption {
	return func(s *Subscriber) error {
		if dialer == nil {
			return errors.New("dialer is nil")
		}
		d := *dialer
		if !slices.Contains(d.Subprotocols, Subprotocol) {
			d.Subprotocols = append([]string{Subprotocol}, d.Subprotocols...)
		}
		s.dialer = &d
		return nil
	}
}

// WithAckTimeout bounds the wait for connection_ack.
func WithAckTimeout(timeout time.Duration) SubscriberOption {
	return func(s *Subscriber) error {
		if timeout <= 0 {
			return fmt.Errorf("ack timeout must be positive, got %s", timeout)
		}
		s.ackTimeout = timeout
		return nil
	}
}

// WithSubscriberLogger sets the logger for protocol messages.
func WithSubscriberLogger(logger *zap.Logger) SubscriberOption {
	return func(s *Subscriber) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
		return nil
	}
}

// Endpoint returns the WebSocket endpoint of the subscriber.
func (s *Subscriber) Endpoint() string {
	return s.endpoint
}

// Subscribe opens a connection, starts subscription id with req and calls
// next for every payload until the subscription ends.
//
// It returns ErrSubscriptionComplete when the server completes the
// subscription, a *SubscriptionError when the server reports an error and
// ctx.Err() when ctx is cancelled, in which case complete is sent and the
// connection is closed normally. Any other error is a transport failure.
func (s *Subscriber) Subscribe(ctx context.Context, id string, req Request, next NextFunc) error {
	conn, res, err := s.dialer.DialContext(ctx, s.endpoint, s.creds.Header())
	if err != nil {
		if res != nil {
			return fmt.Errorf("dialing %s : %s : %w", s.endpoint, res.Status, err)
		}
		return fmt.Errorf("dialing %s : %w", s.endpoint, err)
	}
	if conn.Subprotocol() != Subprotocol {
		s.logger.Warn("server did not select subprotocol",
			zap.String("wanted", Subprotocol),
			zap.String("got", conn.Subprotocol()))
	}

	sess := newSession(conn)
	defer sess.close()

	initPayload, err := json.Marshal(s.creds.initPayload())
	if err != nil {
		return fmt.Errorf("marshalling connection_init payload : %w", err)
	}
	if err := sess.send(message{Type: typeConnectionInit, Payload: initPayload}); err != nil {
		return fmt.Errorf("sending connection_init : %w", err)
	}

	if err := s.awaitAck(ctx, sess); err != nil {
		return err
	}
	s.logger.Debug("connection acknowledged", zap.String("subscription", id))
	if trace := ContextSubscriptionTrace(ctx); trace != nil && trace.Acknowledged != nil {
		trace.Acknowledged(id)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling subscription : %w", err)
	}
	if err := sess.send(message{ID: id, Type: typeSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("sending subscribe : %w", err)
	}

	for {
		msg, err := sess.receive(ctx, nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				sess.send(message{ID: id, Type: typeComplete})
				return ctxErr
			}
			return fmt.Errorf("reading subscription %s : %w", id, err)
		}

		switch msg.Type {
		case typeNext:
			if msg.ID != id {
				continue
			}
			var response Response
			if err := json.Unmarshal(msg.Payload, &response); err != nil {
				s.logger.Warn("dropping undecodable payload", zap.String("subscription", id), zap.Error(err))
				continue
			}
			if err := next(&response); err != nil {
				sess.send(message{ID: id, Type: typeComplete})
				return fmt.Errorf("handling subscription %s payload : %w", id, err)
			}
		case typeError:
			subErr := &SubscriptionError{ID: id}
			if err := json.Unmarshal(msg.Payload, &subErr.Errors); err != nil {
				subErr.Errors = []Error{{Message: string(msg.Payload)}}
			}
			return subErr
		case typeComplete:
			if msg.ID == id {
				return ErrSubscriptionComplete
			}
		case typePing:
			if err := sess.send(message{Type: typePong}); err != nil {
				return fmt.Errorf("sending pong : %w", err)
			}
		case typePong:
		default:
			s.logger.Debug("ignoring message", zap.String("type", msg.Type), zap.String("subscription", id))
		}
	}
}

func (s *Subscriber) awaitAck(ctx context.Context, sess *session) error {
	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	for {
		msg, err := sess.receive(ctx, timer.C)
		if err != nil {
			return fmt.Errorf("waiting for connection_ack : %w", err)
		}
		switch msg.Type {
		case typeConnectionAck:
			return nil
		case typePing:
			if err := sess.send(message{Type: typePong}); err != nil {
				return fmt.Errorf("sending pong : %w", err)
			}
		default:
			s.logger.Debug("ignoring message before ack", zap.String("type", msg.Type))
		}
	}
}

// session owns a connection. Reads happen on a dedicated goroutine, writes
// on the goroutine running Subscribe.
type session struct {
	conn     *websocket.Conn
	incoming chan message
	readErr  chan error
	done     chan struct{}
	finished chan struct{}
}

func newSession(conn *websocket.Conn) *session {
	s := &session{
		conn:     conn,
		incoming: make(chan message),
		readErr:  make(chan error, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	defer close(s.finished)
	defer close(s.incoming)

	for {
		var msg message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.readErr <- err
			return
		}
		select {
		case s.incoming <- msg:
		case <-s.done:
			return
		}
	}
}

// receive waits for the next message. A nil timeout waits forever.
func (s *session) receive(ctx context.Context, timeout <-chan time.Time) (message, error) {
	select {
	case <-ctx.Done():
		return message{}, ctx.Err()
	case <-timeout:
		return message{}, ErrAckTimeout
	case msg, ok := <-s.incoming:
		if !ok {
			select {
			case err := <-s.readErr:
				return message{}, err
			default:
				return message{}, io.ErrUnexpectedEOF
			}
		}
		return msg, nil
	}
}

func (s *session) send(msg message) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *session) close() {
	close(s.done)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	s.conn.Close()
	<-s.finished
}
