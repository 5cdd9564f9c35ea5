// Package api serves next-token distributions over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/samcharles93/nexttoken/internal/distribution"
	"github.com/samcharles93/nexttoken/internal/logger"
)

// MaxBodyBytes bounds the size of a request body.
const MaxBodyBytes = 1 << 20

const (
	RouteNextToken = "/api/next-token"
	RouteModels    = "/api/models"
	RouteHealth    = "/healthz"
	RouteMetrics   = "/metrics"
)

// Health states reported on /healthz.
const (
	HealthLoading = "loading"
	HealthReady   = "ready"
	HealthFailed  = "failed"
)

// HealthFunc reports the readiness of the configured provider.
type HealthFunc func() HealthResponse

type Options struct {
	Service  *distribution.Service
	Defaults distribution.Defaults
	// Health is optional; nil reports ready.
	Health HealthFunc
	// Limiter is optional; nil disables rate limiting of /api/next-token.
	Limiter *rate.Limiter
	Logger  logger.Logger
}

type Server struct {
	service  *distribution.Service
	defaults distribution.Defaults
	health   HealthFunc
	limiter  *rate.Limiter
	log      logger.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		service:  opts.Service,
		defaults: opts.Defaults,
		health:   opts.Health,
		limiter:  opts.Limiter,
		log:      opts.Logger,
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	if s.health == nil {
		s.health = func() HealthResponse {
			return HealthResponse{Status: HealthReady, Provider: s.service.ProviderName()}
		}
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID(s.log), recordMetrics)

	e.POST(RouteNextToken, s.handleNextToken, rateLimit(s.limiter))
	e.GET(RouteModels, s.handleModels)
	e.GET(RouteHealth, s.handleHealth)
	e.GET(RouteMetrics, handleMetrics)
}

func (s *Server) handleNextToken(c *echo.Context) error {
	body, err := decodeJSON[NextTokenRequest](c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	req := distribution.ResolveRequest(body.options(), s.defaults)
	res, err := s.service.NextToken(c.Request().Context(), req)
	if err != nil {
		status := StatusFor(err)
		log := logger.FromContext(c.Request().Context())
		if status >= http.StatusInternalServerError {
			log.Error("next-token failed", "status", status, "class", distribution.Class(err), "error", err)
		} else {
			log.Warn("next-token rejected", "status", status, "class", distribution.Class(err), "error", err)
		}
		return writeError(c, status, errorMessage(err))
	}
	return respond(c, http.StatusOK, NewNextTokenResponse(res))
}

func (s *Server) handleModels(c *echo.Context) error {
	list := s.service.ListModels(c.Request().Context())
	return respond(c, http.StatusOK, ModelsResponse{Models: list.Models, Error: list.Error})
}

// handleHealth answers 200 once the provider can serve, 503 otherwise.
func (s *Server) handleHealth(c *echo.Context) error {
	h := s.health()
	status := http.StatusOK
	if h.Status != HealthReady {
		status = http.StatusServiceUnavailable
	}
	return respond(c, status, h)
}

var metricsHandler = promhttp.Handler()

func handleMetrics(c *echo.Context) error {
	setStatus(c, http.StatusOK)
	metricsHandler.ServeHTTP(c.Response(), c.Request())
	return nil
}

// decodeJSON reads at most MaxBodyBytes and decodes them into T.
func decodeJSON[T any](c *echo.Context) (T, error) {
	var v T
	r := http.MaxBytesReader(c.Response(), c.Request().Body, MaxBodyBytes)
	data, err := io.ReadAll(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return v, newInvalidRequest("request body too large")
		}
		return v, newInvalidRequest("read request body: " + err.Error())
	}
	if len(data) == 0 {
		return v, newInvalidRequest("request body is empty")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, newInvalidRequest("malformed JSON: " + err.Error())
	}
	return v, nil
}

// respond writes v as JSON and records the status for the metrics middleware.
func respond(c *echo.Context, status int, v any) error {
	setStatus(c, status)
	return c.JSON(status, v)
}
