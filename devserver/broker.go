package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"
	"go.uber.org/zap"

	"seatctl/model"
	"seatctl/reservation"
)

// Origin ids of updates the server causes itself.
const (
	OriginDisconnect = "websocket-channel-interceptor"
	OriginBooking    = "default-create-booking-use-case"
	OriginCancel     = "cancel-booking-use-case"
)

const (
	outboxSize      = 64
	maxInboundFrame = 64 << 10
	releaseTimeout  = 5 * time.Second
	serverName      = "seatctl-devserver/1"
)

// Broker is a minimal STOMP 1.2 broker over websocket. Clients CONNECT with
// a channel token and subscribe to session seat topics; the server publishes
// seat updates to them. When a client goes away its holds in the session it
// connected for are released.
type Broker struct {
	tokens *tokens
	holds  HoldStore
	logger *zap.Logger
	nextID atomic.Int64

	mu       sync.Mutex
	clients  map[*stompClient]struct{}
	versions map[int64]int64
	closed   bool
}

type stompClient struct {
	userID    int64
	clientID  string
	sessionID int64
	out       chan *frame.Frame
	cancel    context.CancelFunc

	// subs maps subscription ids to destinations. Guarded by Broker.mu.
	subs map[string]string
}

func newBroker(tokens *tokens, holds HoldStore, logger *zap.Logger) *Broker {
	return &Broker{
		tokens:   tokens,
		holds:    holds,
		logger:   logger,
		clients:  make(map[*stompClient]struct{}),
		versions: make(map[int64]int64),
	}
}

// Publish sends update to every subscriber of the session's seat topic,
// stamped with the session's next version.
func (b *Broker) Publish(sessionID int64, update model.SeatUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.versions[sessionID]++
	update.Version = b.versions[sessionID]
	body, err := json.Marshal(update)
	if err != nil {
		b.logger.Error("encoding seat update", zap.Error(err))
		return
	}

	destination := reservation.Topic(sessionID)
	delivered := 0
	for client := range b.clients {
		for subID, dest := range client.subs {
			if dest != destination {
				continue
			}
			msg := frame.New(frame.MESSAGE,
				"subscription", subID,
				"message-id", strconv.FormatInt(b.nextID.Add(1), 10),
				"destination", destination,
				"content-type", "application/json",
			)
			msg.Body = body
			select {
			case client.out <- msg:
				delivered++
			default:
				b.logger.Warn("dropping slow seat channel client", zap.String("client", client.clientID))
				client.cancel()
			}
		}
	}
	b.logger.Debug("seat update published",
		zap.Int64("session", sessionID),
		zap.Int64("seat", update.Id),
		zap.Bool("taken", update.Taken),
		zap.String("origin", update.OriginId),
		zap.Int("subscribers", delivered),
	)
}

// Subscribers counts the subscriptions to a session's seat topic.
func (b *Broker) Subscribers(sessionID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	destination := reservation.Topic(sessionID)
	n := 0
	for client := range b.clients {
		for _, dest := range client.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// Close drops every connected client.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for client := range b.clients {
		client.cancel()
	}
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: reservation.StompSubprotocols,
	})
	if err != nil {
		b.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxInboundFrame)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := websocket.NetConn(ctx, ws, websocket.MessageText)
	defer conn.Close()

	reader := frame.NewReader(conn)
	writer := frame.NewWriter(conn)

	connect, err := readFrame(reader)
	if err != nil {
		return
	}
	client, err := b.handshake(connect, r.Header.Get("Authorization"))
	if err != nil {
		b.logger.Info("seat channel connect rejected", zap.Error(err))
		_ = writer.Write(frame.New(frame.ERROR, "message", "unauthorized"))
		_ = ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}
	client.cancel = cancel
	if err := writer.Write(frame.New(frame.CONNECTED,
		"version", "1.2",
		"heart-beat", "0,0",
		"server", serverName,
	)); err != nil {
		return
	}
	if !b.join(client) {
		return
	}
	logger := b.logger.With(zap.String("client", client.clientID), zap.Int64("user", client.userID), zap.Int64("session", client.sessionID))
	logger.Info("seat channel connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for f := range client.out {
			if failed {
				continue
			}
			if err := writer.Write(f); err != nil {
				failed = true
				cancel()
			}
		}
	}()

	b.serve(ctx, client, reader, logger)

	b.leave(client, logger)
	close(client.out)
	<-writerDone
}

// serve handles client frames until DISCONNECT or the connection fails.
func (b *Broker) serve(ctx context.Context, client *stompClient, reader *frame.Reader, logger *zap.Logger) {
	for {
		f, err := readFrame(reader)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug("seat channel read ended", zap.Error(err))
			}
			return
		}
		switch f.Command {
		case frame.SUBSCRIBE:
			id, dest := f.Header.Get("id"), f.Header.Get("destination")
			if id == "" || !strings.HasPrefix(dest, "/topic/session/") {
				b.reply(ctx, client, frame.New(frame.ERROR, "message", "invalid subscription"))
				return
			}
			b.mu.Lock()
			client.subs[id] = dest
			b.mu.Unlock()
			logger.Debug("subscribed", zap.String("destination", dest))
		case frame.UNSUBSCRIBE:
			b.mu.Lock()
			delete(client.subs, f.Header.Get("id"))
			b.mu.Unlock()
		case frame.DISCONNECT:
			if receipt := f.Header.Get("receipt"); receipt != "" {
				b.reply(ctx, client, frame.New(frame.RECEIPT, "receipt-id", receipt))
			}
			return
		default:
			continue
		}
		if receipt := f.Header.Get("receipt"); receipt != "" {
			b.reply(ctx, client, frame.New(frame.RECEIPT, "receipt-id", receipt))
		}
	}
}

// reply queues a frame generated by the connection's own read loop.
func (b *Broker) reply(ctx context.Context, client *stompClient, f *frame.Frame) {
	select {
	case client.out <- f:
	case <-ctx.Done():
	}
}

func (b *Broker) handshake(f *frame.Frame, upgradeAuth string) (*stompClient, error) {
	if f.Command != frame.CONNECT && f.Command != frame.STOMP {
		return nil, errors.New("expected CONNECT, got " + f.Command)
	}
	auth := f.Header.Get("Authorization")
	if auth == "" {
		auth = upgradeAuth
	}
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("no Authorization header in CONNECT")
	}
	c, err := b.tokens.Parse(raw, kindChannel)
	if err != nil {
		return nil, err
	}
	sessionID, err := strconv.ParseInt(f.Header.Get("movieSessionId"), 10, 64)
	if err != nil {
		return nil, errors.New("no movieSessionId header in CONNECT")
	}
	return &stompClient{
		userID:    c.UserID,
		clientID:  c.ClientID,
		sessionID: sessionID,
		out:       make(chan *frame.Frame, outboxSize),
		subs:      make(map[string]string),
	}, nil
}

func (b *Broker) join(client *stompClient) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[client] = struct{}{}
	return true
}

// leave unregisters the client and releases its holds for the session it
// connected for.
func (b *Broker) leave(client *stompClient, logger *zap.Logger) {
	b.mu.Lock()
	delete(b.clients, client)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	freed, err := b.holds.ClearUser(ctx, client.sessionID, client.userID)
	if err != nil {
		logger.Warn("releasing holds on disconnect", zap.Error(err))
	}
	for _, seatID := range freed {
		b.Publish(client.sessionID, model.SeatUpdate{Id: seatID, OriginId: OriginDisconnect})
	}
	logger.Info("seat channel disconnected", zap.Int("released", len(freed)))
}

// readFrame skips heart-beats.
func readFrame(reader *frame.Reader) (*frame.Frame, error) {
	for {
		f, err := reader.Read()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}
