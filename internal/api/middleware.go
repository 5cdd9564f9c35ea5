package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/nexttoken/internal/logger"
	"github.com/samcharles93/nexttoken/internal/observability"
)

const HeaderRequestID = "X-Request-ID"

const statusKey = "nexttoken.status"

func setStatus(c *echo.Context, status int) {
	c.Set(statusKey, status)
}

// requestID tags each request with an id (the caller's, or a fresh UUID) and
// stores a logger carrying it in the request context.
func requestID(base logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			log := base.With("request_id", id)
			c.SetRequest(req.WithContext(logger.WithContext(req.Context(), log)))
			return next(c)
		}
	}
}

func routeLabel(path string) string {
	switch path {
	case RouteNextToken, RouteModels, RouteHealth, RouteMetrics:
		return path
	default:
		return "other"
	}
}

// recordMetrics counts requests by route and status and observes their
// duration.
func recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := time.Now()
		err := next(c)

		status := http.StatusOK
		if v, ok := c.Get(statusKey).(int); ok {
			status = v
		} else if err != nil {
			status = http.StatusInternalServerError
			if sc, ok := err.(interface{ StatusCode() int }); ok {
				status = sc.StatusCode()
			}
		}

		route := routeLabel(c.Request().URL.Path)
		method := c.Request().Method
		observability.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		observability.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

// rateLimit rejects requests with 429 once l has no tokens left.
func rateLimit(l *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if l == nil {
			return next
		}
		return func(c *echo.Context) error {
			if !l.Allow() {
				observability.RateLimitRejectedTotal.Inc()
				c.Response().Header().Set("Retry-After", "1")
				return writeError(c, http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// NewLimiter builds a limiter admitting rps requests per second with the
// given burst. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}
