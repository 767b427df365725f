package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL         = "http://localhost:8888"
	DefaultReservationTTL = 5 * time.Minute
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 4 * time.Second
	DefaultHTTPTimeout    = 12 * time.Second

	seatChannelPath = "/ws/seats/websocket"
)

type Config struct {
	Client    ClientConfig
	DevServer DevServerConfig
	LogLevel  string
	LogStderr bool
}

// ClientConfig drives the API client and the live seat channel.
type ClientConfig struct {
	APIURL         string
	WSURL          string
	ReservationTTL time.Duration
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
	HTTPTimeout    time.Duration
	SuccessURL     string
	CancelURL      string
}

// DevServerConfig drives the local stand-in backend.
type DevServerConfig struct {
	Addr          string
	JWTSecret     string
	TokenTTL      time.Duration
	HoldTTL       time.Duration
	BookingCutoff time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads .env.local and .env when present, then the process
// environment. Values already set in the environment win over the files.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	apiURL := strings.TrimRight(envStr("SEATCTL_API_URL", DefaultAPIURL), "/")
	cfg := &Config{
		Client: ClientConfig{
			APIURL:         apiURL,
			WSURL:          envStr("SEATCTL_WS_URL", ""),
			ReservationTTL: envDur("SEATCTL_RESERVATION_TTL", DefaultReservationTTL),
			ReconnectDelay: envDur("SEATCTL_RECONNECT_DELAY", DefaultReconnectDelay),
			Heartbeat:      envDur("SEATCTL_HEARTBEAT", DefaultHeartbeat),
			HTTPTimeout:    envDur("SEATCTL_HTTP_TIMEOUT", DefaultHTTPTimeout),
			SuccessURL:     envStr("SEATCTL_SUCCESS_URL", "http://localhost:3000/bookings/success"),
			CancelURL:      envStr("SEATCTL_CANCEL_URL", "http://localhost:3000/bookings/"),
		},
		DevServer: DevServerConfig{
			Addr:          envStr("DEVSERVER_ADDR", ":8888"),
			JWTSecret:     envStr("DEVSERVER_JWT_SECRET", "dev-secret-change-me"),
			TokenTTL:      envDur("DEVSERVER_TOKEN_TTL", 15*time.Minute),
			HoldTTL:       envDur("DEVSERVER_HOLD_TTL", DefaultReservationTTL),
			BookingCutoff: envDur("DEVSERVER_BOOKING_CUTOFF", 15*time.Minute),
			RedisAddr:     envStr("REDIS_ADDR", ""),
			RedisPassword: envStr("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
		},
		LogLevel:  envStr("SEATCTL_LOG_LEVEL", "info"),
		LogStderr: envBool("SEATCTL_LOG_STDERR", false),
	}
	if cfg.Client.WSURL == "" {
		cfg.Client.WSURL = ChannelURL(apiURL)
	}
	if cfg.Client.ReservationTTL <= 0 {
		cfg.Client.ReservationTTL = DefaultReservationTTL
	}
	if cfg.Client.ReconnectDelay <= 0 {
		cfg.Client.ReconnectDelay = DefaultReconnectDelay
	}
	return cfg, nil
}

// SetAPIURL points the client at apiURL. The channel URL follows it unless
// SEATCTL_WS_URL pins it.
func (c *ClientConfig) SetAPIURL(apiURL string) {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		return
	}
	c.APIURL = apiURL
	if envStr("SEATCTL_WS_URL", "") == "" {
		c.WSURL = ChannelURL(apiURL)
	}
}

// ChannelURL derives the seat channel endpoint from the API root: same host,
// websocket scheme.
func ChannelURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:8888" + seatChannelPath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + seatChannelPath
	u.RawQuery = ""
	return u.String()
}

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
