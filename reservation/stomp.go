package reservation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	dialTimeout       = 10 * time.Second
	disconnectTimeout = 2 * time.Second
	maxFrameBytes     = 1 << 20
)

// StompSubprotocols are offered on the websocket upgrade, newest first.
var StompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// StompDialer speaks STOMP over a raw websocket, the transport the seat
// topic is published on.
type StompDialer struct {
	HTTPClient *http.Client
	Heartbeat  time.Duration
	Logger     *zap.Logger
}

func (d *StompDialer) Dial(ctx context.Context, req DialRequest) (Subscription, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Token)
	ws, res, err := websocket.Dial(dialCtx, req.URL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: StompSubprotocols,
	})
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("dial %s: %w", req.URL, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	netConn := websocket.NetConn(context.Background(), ws, websocket.MessageText)
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Header("Authorization", "Bearer "+req.Token),
		stomp.ConnOpt.Header("movieSessionId", strconv.FormatInt(req.SessionID, 10)),
		stomp.ConnOpt.HeartBeat(d.Heartbeat, d.Heartbeat),
	}
	if u, err := url.Parse(req.URL); err == nil {
		opts = append(opts, stomp.ConnOpt.Host(u.Hostname()))
	}

	conn, err := connectStomp(dialCtx, netConn, opts)
	if err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "connect rejected")
		var stompErr stomp.Error
		if errors.As(err, &stompErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	sub, err := conn.Subscribe(req.Topic, stomp.AckAuto)
	if err != nil {
		_ = conn.MustDisconnect()
		_ = ws.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("subscribe %s: %w", req.Topic, err)
	}
	logger.Debug("seat channel subscribed", zap.String("topic", req.Topic), zap.String("subprotocol", ws.Subprotocol()))

	return &stompSubscription{ws: ws, conn: conn, sub: sub}, nil
}

// connectStomp runs the CONNECT handshake, giving up when ctx ends.
func connectStomp(ctx context.Context, rwc io.ReadWriteCloser, opts []func(*stomp.Conn) error) (*stomp.Conn, error) {
	type result struct {
		conn *stomp.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := stomp.Connect(rwc, opts...)
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		_ = rwc.Close()
		return nil, ctx.Err()
	}
}

type stompSubscription struct {
	ws   *websocket.Conn
	conn *stomp.Conn
	sub  *stomp.Subscription
}

func (s *stompSubscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.sub.C:
		if !ok {
			return nil, io.EOF
		}
		if msg.Err != nil {
			return nil, msg.Err
		}
		return msg.Body, nil
	}
}

// Close unsubscribes and disconnects, then drops the websocket. A server
// that never acknowledges the DISCONNECT is cut off after a short wait.
func (s *stompSubscription) Close() error {
	var err error
	if s.sub.Active() {
		err = multierr.Append(err, s.sub.Unsubscribe())
	}

	done := make(chan error, 1)
	go func() { done <- s.conn.Disconnect() }()
	select {
	case disconnectErr := <-done:
		err = multierr.Append(err, disconnectErr)
	case <-time.After(disconnectTimeout):
		err = multierr.Append(err, s.conn.MustDisconnect())
	}

	// Disconnect already closed the net.Conn in the common case.
	_ = s.ws.CloseNow()
	return err
}
