package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "hasura_auth_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBRowsAffected tracks rows affected by write operations
	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "hasura_auth_db_rows_affected",
			Help:                            "Number of rows affected by database write operations",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// HTTP Handler Metrics
var (
	// HTTPRequests tracks HTTP requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks HTTP request duration
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "hasura_auth_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// HTTPActiveRequests tracks active HTTP requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hasura_auth_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)
)

// Authentication Flow Metrics
var (
	// SignIns tracks completed sign-in attempts by provider, flow, and outcome
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_signins_total",
			Help: "Total sign-in attempts by provider, flow (oauth, native, webauthn), and outcome",
		},
		[]string{"provider", "flow", "outcome"},
	)

	// AccountResolutions tracks account resolution outcomes (updated, linked, created)
	AccountResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_account_resolutions_total",
			Help: "Total account resolutions by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderCalls tracks outbound identity provider calls
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hasura_auth_provider_calls_total",
			Help: "Total outbound provider calls by provider, call (exchange, userinfo), and status",
		},
		[]string{"provider", "call", "status"},
	)

	// ProviderCallDuration tracks outbound provider call latency
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "hasura_auth_provider_call_duration_ms",
			Help:                            "Outbound provider call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"provider", "call"},
	)

	// ActiveFlows tracks in-flight authentication flows held in the flow-state store
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hasura_auth_active_flows",
			Help: "Number of in-flight authentication flows",
		},
	)
)
