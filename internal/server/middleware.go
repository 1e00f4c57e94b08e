package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ArmanHov2006/sentinel/internal/observability"
	"github.com/ArmanHov2006/sentinel/internal/trace"
)

// TraceMiddleware tags every request with a trace ID, taken from the
// inbound X-Request-ID header or minted fresh, and echoes it back.
func TraceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			if id := req.Header.Get(trace.HeaderRequestID); id != "" {
				ctx = trace.WithRequestID(ctx, id)
			}
			ctx, id := trace.Ensure(ctx)
			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(trace.HeaderRequestID, id)
			return next(c)
		}
	}
}

// MetricsMiddleware records per-request counters and response times in the
// collector and the Prometheus mirrors, and stamps X-Response-Time.
func MetricsMiddleware(collector *observability.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			endpoint := c.Path()

			collector.Increment(observability.MetricRequestsTotal)
			collector.Increment(observability.MetricActiveRequests)
			collector.IncrementDict(observability.MetricRequestsByEndpoint, endpoint)
			observability.PromInFlightRequests.Inc()

			// The header must go out before the first body byte.
			c.Response().Before(func() {
				elapsed := time.Since(start).Seconds() * 1000
				c.Response().Header().Set("X-Response-Time", fmt.Sprintf("%.1fms", elapsed))
			})

			err := next(c)

			elapsed := time.Since(start)
			status := c.Response().Status

			collector.Decrement(observability.MetricActiveRequests)
			collector.IncrementDict(observability.MetricRequestsByStatus, strconv.Itoa(status))
			collector.Observe(observability.MetricResponseTimeSeconds, elapsed.Seconds())

			observability.PromInFlightRequests.Dec()
			observability.PromRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			observability.PromRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

			return err
		}
	}
}
