package devserver

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seatctl/config"
)

const expiredPattern = "__keyevent@*__:expired"

// releaseScript drops KEYS[1] only while ARGV[1] holds it and forgets it in
// the user's set KEYS[2]. Returns 1 when released, 0 when free, -1 when held
// by someone else.
var releaseScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
redis.call("SREM", KEYS[2], KEYS[1])
if not holder then
  return 0
end
if holder ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
return 1
`)

// clearScript drops each of KEYS[2..] still held by ARGV[1], forgets all of
// them in the user's set KEYS[1] and returns the dropped keys. Entries left
// behind by lapsed holds never touch a seat someone else holds now.
var clearScript = redis.NewScript(`
local freed = {}
for i = 2, #KEYS do
  if redis.call("GET", KEYS[i]) == ARGV[1] then
    redis.call("DEL", KEYS[i])
    table.insert(freed, KEYS[i])
  end
  redis.call("SREM", KEYS[1], KEYS[i])
end
return freed
`)

// NewRedisClient connects to the configured Redis server and pings it with
// a short timeout.
func NewRedisClient(ctx context.Context, cfg config.DevServerConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// RedisHolds keeps holds as expiring Redis keys so several devserver
// processes can share them. Lapses come from keyspace expiry notifications.
type RedisHolds struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	pubsub *redis.PubSub
	lapses chan Lapse
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisHolds enables expiry notifications on the server and starts
// listening for them.
func NewRedisHolds(ctx context.Context, client *redis.Client, ttl time.Duration, logger *zap.Logger) (*RedisHolds, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		// Managed Redis often forbids CONFIG; expiry events then depend on
		// the server's own settings.
		logger.Warn("enabling keyspace notifications", zap.Error(err))
	}

	pubsub := client.PSubscribe(ctx, expiredPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to key expiry: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	h := &RedisHolds{
		client: client,
		ttl:    ttl,
		logger: logger,
		pubsub: pubsub,
		lapses: make(chan Lapse, lapseBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.listen(listenCtx)
	return h, nil
}

func (h *RedisHolds) listen(ctx context.Context) {
	defer close(h.done)
	defer close(h.lapses)
	messages := h.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			sessionID, seatID, ok := parseSeatKey(msg.Payload)
			if !ok {
				continue
			}
			select {
			case h.lapses <- Lapse{SessionID: sessionID, SeatID: seatID}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *RedisHolds) Reserve(ctx context.Context, sessionID int64, seatID int64, userID int64) error {
	key := seatKey(sessionID, seatID)
	ok, err := h.client.SetNX(ctx, key, holderValue(userID), h.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve %s: %w", key, err)
	}
	if !ok {
		return ErrHeld
	}
	if err := h.client.SAdd(ctx, userKey(userID), key).Err(); err != nil {
		h.logger.Warn("tracking user hold", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (h *RedisHolds) Release(ctx context.Context, sessionID int64, seatID int64, userID int64) (bool, error) {
	key := seatKey(sessionID, seatID)
	result, err := releaseScript.Run(ctx, h.client, []string{key, userKey(userID)}, holderValue(userID)).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	switch result {
	case 1:
		return true, nil
	case -1:
		return false, ErrHeld
	}
	return false, nil
}

func (h *RedisHolds) Holders(ctx context.Context, sessionID int64, seatIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64)
	if len(seatIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(seatIDs))
	for i, seatID := range seatIDs {
		keys[i] = seatKey(sessionID, seatID)
	}
	values, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read holds: %w", err)
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		if userID, ok := parseHolder(raw); ok {
			out[seatIDs[i]] = userID
		}
	}
	return out, nil
}

func (h *RedisHolds) ClearUser(ctx context.Context, sessionID int64, userID int64) ([]int64, error) {
	locks := userKey(userID)
	members, err := h.client.SMembers(ctx, locks).Result()
	if err != nil {
		return nil, fmt.Errorf("read user holds: %w", err)
	}

	var keys []string
	for _, key := range members {
		if session, _, ok := parseSeatKey(key); ok && session == sessionID {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	freed, err := clearScript.Run(ctx, h.client, append([]string{locks}, keys...), holderValue(userID)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("clear user holds: %w", err)
	}
	seats := make([]int64, 0, len(freed))
	for _, key := range freed {
		if _, seat, ok := parseSeatKey(key); ok {
			seats = append(seats, seat)
		}
	}
	return seats, nil
}

func (h *RedisHolds) Lapses() <-chan Lapse {
	return h.lapses
}

// Close stops the expiry listener. The client belongs to the caller.
func (h *RedisHolds) Close() error {
	h.cancel()
	err := h.pubsub.Close()
	<-h.done
	return err
}
