// Package httpapi exposes the speaker session layer over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"speakerd/internal/amp"
	"speakerd/internal/speaker"
	"speakerd/internal/track"
)

// maxTrackBytes bounds a /play request body.
const maxTrackBytes = 64 << 20

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	speaker *speaker.Speaker
}

// New constructs the Echo app: recovery, CORS, request logging, token auth
// and the API routes.
func New(spk *speaker.Speaker, token string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		// The upstream controller UI calls from arbitrary origins with
		// the token in a header, so the wildcard must survive the
		// credentialed path.
		UnsafeWildcardOriginWithAllowCredentials: true,
	}))
	e.Use(requestLogger())
	e.Use(tokenAuth(token))

	s := &Server{echo: e, speaker: spk}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			slog.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

// tokenAuth compares the Authorization header verbatim against the
// configured token. Every route is guarded.
func tokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != token {
				return c.String(http.StatusUnauthorized, "401 Unauthorized")
			}
			return next(c)
		}
	}
}

// Echo exposes the underlying Echo instance for tests and for the HTTP/3
// listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

func (s *Server) registerRoutes() {
	// Session management.
	s.echo.POST("/:channel/open", s.handleOpen)
	s.echo.POST("/:channel/prolong", s.handleProlong)

	// Activation. Long-polls until the awaited transition resolves.
	s.echo.POST("/:channel/activate", s.handleActivate)
	s.echo.POST("/:channel/deactivate", s.handleDeactivate)

	// Playback.
	s.echo.POST("/:channel/play", s.handlePlay)
	s.echo.POST("/:channel/skip", s.handleSkip)
	s.echo.POST("/:channel/clear", s.handleClear)

	// Channel getters.
	s.echo.GET("/:channel/state", s.handleState)
	s.echo.GET("/:channel/duration-left", s.handleChannelDurationLeft)

	// Speaker getters.
	s.echo.GET("/activation-duration", s.handleActivationDuration)
	s.echo.GET("/deactivation-duration", s.handleDeactivationDuration)
	s.echo.GET("/duration-left", s.handleDurationLeft)
	s.echo.GET("/working", s.handleWorking)
}

func (s *Server) handleOpen(c echo.Context) error {
	if err := s.speaker.Open(c.Param("channel")); err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, "Ok")
}

func (s *Server) handleProlong(c echo.Context) error {
	if err := s.speaker.Prolong(c.Param("channel")); err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, "Ok")
}

func (s *Server) handleActivate(c echo.Context) error {
	done, err := s.speaker.Activate(c.Param("channel"), urgently(c))
	if err != nil {
		return bindError(c, err)
	}
	return longPoll(c, done)
}

func (s *Server) handleDeactivate(c echo.Context) error {
	done, err := s.speaker.Deactivate(c.Param("channel"), urgently(c))
	if err != nil {
		return bindError(c, err)
	}
	return longPoll(c, done)
}

func (s *Server) handlePlay(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTrackBytes))
	if err != nil {
		return c.String(http.StatusBadRequest, "400 Incompatible Track")
	}

	t, err := track.Load(body)
	if err != nil {
		if errors.Is(err, track.ErrNotWav) {
			return c.String(http.StatusBadRequest, "400 Track Not Wav")
		}
		return bindError(c, err)
	}

	done, err := s.speaker.Enqueue(c.Param("channel"), t)
	if err != nil {
		return bindError(c, err)
	}
	return longPoll(c, done)
}

func (s *Server) handleSkip(c echo.Context) error {
	if err := s.speaker.Skip(c.Param("channel")); err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, "Ok")
}

func (s *Server) handleClear(c echo.Context) error {
	if err := s.speaker.Clear(c.Param("channel")); err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, "Ok")
}

func (s *Server) handleState(c echo.Context) error {
	state, err := s.speaker.State(c.Param("channel"))
	if err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, state.String())
}

func (s *Server) handleChannelDurationLeft(c echo.Context) error {
	d, err := s.speaker.DurationLeft(c.Param("channel"))
	if err != nil {
		return bindError(c, err)
	}
	return c.String(http.StatusOK, strconv.FormatInt(d.Milliseconds(), 10))
}

func (s *Server) handleActivationDuration(c echo.Context) error {
	d := s.speaker.ActivationDuration(urgently(c))
	return c.String(http.StatusOK, strconv.FormatInt(d.Milliseconds(), 10))
}

func (s *Server) handleDeactivationDuration(c echo.Context) error {
	d := s.speaker.DeactivationDuration(urgently(c))
	return c.String(http.StatusOK, strconv.FormatInt(d.Milliseconds(), 10))
}

func (s *Server) handleDurationLeft(c echo.Context) error {
	d := s.speaker.TotalDurationLeft()
	return c.String(http.StatusOK, strconv.FormatInt(d.Milliseconds(), 10))
}

func (s *Server) handleWorking(c echo.Context) error {
	if s.speaker.Working() {
		return c.String(http.StatusOK, "1")
	}
	return c.String(http.StatusOK, "0")
}

// urgently reports the presence of the "urgently" query parameter.
func urgently(c echo.Context) bool {
	_, ok := c.QueryParams()["urgently"]
	return ok
}

// longPoll blocks until the promise resolves or the client goes away.
func longPoll(c echo.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return c.String(http.StatusOK, "Ok")
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

// bindError maps the error taxonomy onto the wire statuses.
func bindError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, speaker.ErrChannelNotFound):
		return c.String(http.StatusNotFound, "404 Channel Not Found")
	case errors.Is(err, amp.ErrChannelOpened):
		return c.String(http.StatusBadRequest, "400 Channel Opened")
	case errors.Is(err, amp.ErrChannelClosed):
		return c.String(http.StatusBadRequest, "400 Channel Closed")
	case errors.Is(err, amp.ErrChannelInactive):
		return c.String(http.StatusBadRequest, "400 Channel Inactive")
	case errors.Is(err, track.ErrIncompatible):
		return c.String(http.StatusBadRequest, "400 Incompatible Track")
	}
	slog.Error("unmapped api error", "err", err)
	return c.String(http.StatusInternalServerError, "500 Internal Server Error")
}
