package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OTP outcome labels.
const (
	OTPIssued       = "issued"
	OTPDeliveryFail = "delivery_failed"
	OTPVerified     = "verified"
	OTPMismatch     = "mismatch"
	OTPExpired      = "expired"
	OTPExhausted    = "exhausted"
	OTPNotFound     = "not_found"
	OTPInvalid      = "invalid"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	OTPEvents *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewServerMetrics registers the server collectors on reg. A nil reg means
// the default prometheus registry.
func NewServerMetrics(reg *prometheus.Registry) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "route"})
	otpEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "otp_events_total",
		Help:      "OTP issue and verify outcomes.",
	}, []string{"outcome"})

	m := &ServerMetrics{Requests: requests, LatencyMS: latency, OTPEvents: otpEvents}
	if reg == nil {
		prometheus.MustRegister(requests, latency, otpEvents)
		m.gatherer = prometheus.DefaultGatherer
	} else {
		reg.MustRegister(requests, latency, otpEvents)
		m.gatherer = reg
	}
	return m
}

// Middleware records a request count and latency per matched route.
func (m *ServerMetrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		method := c.Method()
		m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(method, route).Observe(float64(time.Since(start).Milliseconds()))
		return err
	}
}

// OTP counts one OTP outcome. Safe to call on a nil receiver.
func (m *ServerMetrics) OTP(outcome string) {
	if m == nil {
		return
	}
	m.OTPEvents.WithLabelValues(outcome).Inc()
}

// Handler serves the prometheus exposition format.
func (m *ServerMetrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
