package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/service"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultReconnectDelay = 5 * time.Second
)

// Status is the live channel's connection state. Expired and
// ConnectionFailed are terminal.
type Status int

const (
	StatusStarting Status = iota
	StatusConnected
	StatusExpired
	StatusConnectionFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusConnected:
		return "connected"
	case StatusExpired:
		return "expired"
	case StatusConnectionFailed:
		return "connection-failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusConnectionFailed
}

// Err is the error a terminal status stands for.
func (s Status) Err() error {
	switch s {
	case StatusExpired:
		return ErrExpired
	case StatusConnectionFailed:
		return ErrConnectionFailed
	}
	return nil
}

// TokenSource issues the bearer token the channel presents on connect.
type TokenSource interface {
	ChannelToken(ctx context.Context, clientID string) (string, error)
}

// DialRequest is what the transport needs to open one subscription.
type DialRequest struct {
	URL       string
	Token     string
	SessionID int64
	Topic     string
}

// Dialer opens the transport and subscribes to a topic. Errors wrapping
// ErrUnauthorized are never retried.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Subscription, error)
}

// Subscription yields raw message bodies until the connection drops.
type Subscription interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// ChannelEvent is emitted by a Channel: a StatusChanged, a SeatUpdated or a
// Reconnected.
type ChannelEvent interface {
	isChannelEvent()
}

type StatusChanged struct {
	Status Status
	Err    error
}

type SeatUpdated struct {
	Update model.SeatUpdate
	// Self is set when the update echoes this client's own hold.
	Self bool
}

// Reconnected is emitted when the channel subscribes again after a drop.
// The publisher may have restarted meanwhile, so update versions seen
// before it say nothing about the ones after.
type Reconnected struct {
	Attempt int
}

func (StatusChanged) isChannelEvent() {}
func (SeatUpdated) isChannelEvent()   {}
func (Reconnected) isChannelEvent()   {}

type ChannelOptions struct {
	URL            string
	TTL            time.Duration
	ReconnectDelay time.Duration
	Clock          Clock
	Logger         *zap.Logger
}

// Channel keeps one subscription to a session's seat topic alive and ends it
// when the reservation window closes.
type Channel struct {
	sessionID      int64
	identity       Identity
	tokens         TokenSource
	dialer         Dialer
	url            string
	ttl            time.Duration
	reconnectDelay time.Duration
	clock          Clock
	logger         *zap.Logger
	events         *mailbox[ChannelEvent]

	mu          sync.Mutex
	status      Status
	err         error
	opened      bool
	closed      bool
	expiresAt   time.Time
	ttlTimer    Timer
	cancel      context.CancelFunc
	done        chan struct{}
	teardownErr error

	closeOnce sync.Once
	closeErr  error
}

func NewChannel(sessionID int64, identity Identity, tokens TokenSource, dialer Dialer, opts ChannelOptions) *Channel {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		sessionID:      sessionID,
		identity:       identity,
		tokens:         tokens,
		dialer:         dialer,
		url:            opts.URL,
		ttl:            opts.TTL,
		reconnectDelay: opts.ReconnectDelay,
		clock:          opts.Clock,
		logger:         opts.Logger.With(zap.Int64("session", sessionID)),
		events:         newMailbox[ChannelEvent](),
		status:         StatusStarting,
		done:           make(chan struct{}),
	}
}

// Topic is the destination seat updates for a session are published to.
func Topic(sessionID int64) string {
	return fmt.Sprintf("/topic/session/%d/seats", sessionID)
}

// Open starts the TTL timer and connects in the background. Calling it more
// than once, or after Close, does nothing.
func (c *Channel) Open(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened || c.closed {
		return
	}
	c.opened = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.expiresAt = c.clock.Now().Add(c.ttl)
	c.ttlTimer = c.clock.AfterFunc(c.ttl, c.expire)

	go c.run(runCtx)
}

func (c *Channel) Events() <-chan ChannelEvent {
	return c.events.Out()
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error behind a connection-failed status.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ExpiresAt is when the reservation window closes; zero before Open.
func (c *Channel) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

func (c *Channel) TTL() time.Duration {
	return c.ttl
}

// Close stops the TTL timer and tears the transport down whatever the
// current status. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		opened := c.opened
		if c.ttlTimer != nil {
			c.ttlTimer.Stop()
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		if opened {
			<-c.done
		}
		c.events.Discard()

		c.mu.Lock()
		c.closeErr = c.teardownErr
		c.mu.Unlock()
		c.logger.Debug("seat channel closed", zap.Error(c.closeErr))
	})
	return c.closeErr
}

func (c *Channel) expire() {
	if !c.transition(StatusExpired, nil) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) fail(err error) {
	c.transition(StatusConnectionFailed, err)
}

// transition moves to status unless a terminal status was already reached.
func (c *Channel) transition(status Status, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status.Terminal() || c.status == status {
		return false
	}
	prev := c.status
	c.status = status
	if err != nil {
		c.err = err
	}
	c.logger.Info("seat channel status", zap.Stringer("from", prev), zap.Stringer("to", status), zap.Error(err))
	c.events.Put(StatusChanged{Status: status, Err: err})
	return true
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	token, err := c.tokens.ChannelToken(ctx, c.identity.ClientID)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(fmt.Errorf("acquire channel token: %w", err))
		}
		return
	}

	req := DialRequest{
		URL:       c.url,
		Token:     token,
		SessionID: c.sessionID,
		Topic:     Topic(c.sessionID),
	}
	connected := false
	for attempt := 1; ; attempt++ {
		sub, err := c.dialer.Dial(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !connected || errors.Is(err, ErrUnauthorized) {
				c.fail(fmt.Errorf("connect seat channel: %w", err))
				return
			}
			c.logger.Warn("seat channel reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			if connected {
				c.resubscribed(attempt)
			}
			connected = true
			attempt = 0
			c.transition(StatusConnected, nil)

			err = c.consume(ctx, sub)
			closeErr := sub.Close()
			if ctx.Err() != nil {
				c.mu.Lock()
				c.teardownErr = multierr.Append(c.teardownErr, closeErr)
				c.mu.Unlock()
				return
			}
			c.logger.Warn("seat channel dropped", zap.Error(multierr.Append(err, closeErr)))
		}

		if !c.sleep(ctx) {
			return
		}
		if tokenExpired(req.Token, c.clock.Now()) {
			fresh, err := c.tokens.ChannelToken(ctx, c.identity.ClientID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if service.IsAuthExpired(err) {
					c.fail(fmt.Errorf("renew channel token: %w", err))
					return
				}
				c.logger.Warn("seat channel token renewal failed", zap.Error(err))
				continue
			}
			req.Token = fresh
		}
	}
}

func (c *Channel) consume(ctx context.Context, sub Subscription) error {
	for {
		body, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		var update model.SeatUpdate
		if err := json.Unmarshal(body, &update); err != nil {
			c.logger.Warn("dropping malformed seat update", zap.ByteString("body", body), zap.Error(err))
			continue
		}
		c.dispatch(update)
	}
}

func (c *Channel) dispatch(update model.SeatUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status.Terminal() {
		return
	}
	c.events.Put(SeatUpdated{Update: update, Self: update.OriginId == c.identity.ClientID})
}

func (c *Channel) resubscribed(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status.Terminal() {
		return
	}
	c.logger.Info("seat channel reconnected", zap.Int("attempt", attempt))
	c.events.Put(Reconnected{Attempt: attempt})
}

func (c *Channel) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(c.reconnectDelay):
		return true
	}
}

// tokenExpired reports whether a JWT token's exp claim has passed. Tokens
// that are not JWTs never expire from the client's point of view.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
