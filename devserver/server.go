// Package devserver is a local stand-in for the reservation backend: the
// REST API, short-lived seat holds and the STOMP seat channel, enough to
// drive seatctl end to end without the real services.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seatctl/config"
	"seatctl/model"
)

const shutdownTimeout = 5 * time.Second

// Server wires the catalog, the hold store and the broker behind an echo
// router.
type Server struct {
	cfg     config.DevServerConfig
	catalog *Catalog
	holds   HoldStore
	tokens  *tokens
	broker  *Broker
	logger  *zap.Logger
	echo    *echo.Echo
}

// New builds a server. It takes ownership of holds.
func New(cfg config.DevServerConfig, catalog *Catalog, holds HoldStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	tok := newTokens(cfg.JWTSecret, cfg.TokenTTL, catalog.now)
	s := &Server{
		cfg:     cfg,
		catalog: catalog,
		holds:   holds,
		tokens:  tok,
		broker:  newBroker(tok, holds, logger.Named("broker")),
		logger:  logger,
		echo:    echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Broker() *Broker {
	return s.broker
}

// Run serves on the configured address until ctx ends, forwarding hold
// lapses to the seat channel meanwhile.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("devserver listening", zap.String("addr", s.cfg.Addr))
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		s.ForwardLapses(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ForwardLapses publishes a release for every hold that expires, until ctx
// ends or the hold store closes.
func (s *Server) ForwardLapses(ctx context.Context) {
	lapses := s.holds.Lapses()
	for {
		select {
		case <-ctx.Done():
			return
		case lapse, ok := <-lapses:
			if !ok {
				return
			}
			s.logger.Info("seat hold expired", zap.Int64("session", lapse.SessionID), zap.Int64("seat", lapse.SeatID))
			s.broker.Publish(lapse.SessionID, model.SeatUpdate{Id: lapse.SeatID, OriginId: model.ExpirationOrigin})
		}
	}
}

// Close drops channel clients and releases the hold store.
func (s *Server) Close() error {
	s.broker.Close()
	return multierr.Append(s.echo.Close(), s.holds.Close())
}

// handleError renders failures as {status, message, path}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request().URL.Path), zap.Error(err))
		message = http.StatusText(status)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if writeErr := c.JSON(status, echo.Map{
		"status":  status,
		"message": message,
		"path":    c.Request().URL.Path,
	}); writeErr != nil {
		s.logger.Debug("writing error response", zap.Error(writeErr))
	}
}

func statusOf(err error) (int, string) {
	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrConflict), errors.Is(err, ErrHeld):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrGone):
		return http.StatusGone, err.Error()
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &httpErr):
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	}
	return http.StatusInternalServerError, err.Error()
}
