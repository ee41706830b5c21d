package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deltabadger_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deltabadger_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deltabadger_http_in_flight_requests",
			Help: "HTTP requests currently being served",
		},
	)

	metricsOnce sync.Once
)

// Metrics records request counts, latency and an in-flight gauge. Labels use
// the route template (/api/v1/bots/:id), not the raw path, so cardinality
// stays bounded.
func Metrics() echo.MiddlewareFunc {
	metricsOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, httpInFlight)
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpInFlight.Inc()

			err := next(c)

			httpInFlight.Dec()
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			method := c.Request().Method

			// Errors are rendered by Echo's error handler after this
			// middleware unwinds, so the response status is not final yet.
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
