// Package server exposes the run endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
)

// Server wraps the echo instance serving the collector API.
type Server struct {
	echo    *echo.Echo
	service *core.Service
	logger  *zap.Logger
	addr    string
}

// New creates the HTTP server over the run service.
func New(service *core.Service, logger *zap.Logger, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, service: service, logger: logger, addr: addr}

	e.GET("/healthz", s.health)
	e.GET("/api/collectors", s.listCollectors)
	e.POST("/api/collectors/:collector/run", s.runCollector)

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCollectors(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Collectors())
}

func (s *Server) runCollector(c echo.Context) error {
	name := c.Param("collector")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
	}

	req, warnings, err := core.ParseRunRequest(body)
	if err != nil {
		return c.JSON(statusForError(err), errorResponse{Error: err.Error()})
	}

	res, err := s.service.Run(c.Request().Context(), name, req, warnings)
	if err != nil {
		return c.JSON(statusForError(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var (
		validation *core.ValidationError
		notFound   *core.NotFoundError
		conflict   *core.ConflictError
		disabled   *core.DisabledError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &disabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
