package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the token lifecycle and
// authorization paths. All Record methods are nil-safe so callers can hold a
// nil *Metrics when instrumentation is not configured.
type Metrics struct {
	tokensIssued    metric.Int64Counter
	tokensRotated   metric.Int64Counter
	tokensRevoked   metric.Int64Counter
	replayDetected  metric.Int64Counter
	authDecisions   metric.Int64Counter
	grantFailures   metric.Int64Counter
	storeOpDuration metric.Float64Histogram
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	meter := inst.Meter("auth")

	m := &Metrics{}
	var err error

	m.tokensIssued, err = meter.Int64Counter("auth.tokens.issued",
		metric.WithDescription("Token pairs issued, by grant type"))
	if err != nil {
		return nil, err
	}

	m.tokensRotated, err = meter.Int64Counter("auth.tokens.rotated",
		metric.WithDescription("Refresh tokens rotated"))
	if err != nil {
		return nil, err
	}

	m.tokensRevoked, err = meter.Int64Counter("auth.tokens.revoked",
		metric.WithDescription("Tokens explicitly revoked"))
	if err != nil {
		return nil, err
	}

	m.replayDetected, err = meter.Int64Counter("auth.replay.detected",
		metric.WithDescription("Replays of consumed codes or rotated refresh tokens"))
	if err != nil {
		return nil, err
	}

	m.authDecisions, err = meter.Int64Counter("auth.decisions",
		metric.WithDescription("Request authentication decisions, by method and outcome"))
	if err != nil {
		return nil, err
	}

	m.grantFailures, err = meter.Int64Counter("auth.grant.failures",
		metric.WithDescription("Failed token grant attempts, by error code"))
	if err != nil {
		return nil, err
	}

	m.storeOpDuration, err = meter.Float64Histogram("auth.store.duration",
		metric.WithDescription("Key/value store operation duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTokenIssued records a successful token issuance.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType)))
}

// RecordTokenRotated records a refresh token rotation.
func (m *Metrics) RecordTokenRotated(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokensRotated.Add(ctx, 1)
}

// RecordTokenRevoked records an explicit revocation.
func (m *Metrics) RecordTokenRevoked(ctx context.Context, tokenType string) {
	if m == nil {
		return
	}
	m.tokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", tokenType)))
}

// RecordReplayDetected records a replay. kind is "authorization_code" or
// "refresh_token".
func (m *Metrics) RecordReplayDetected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.replayDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind)))
}

// RecordAuthDecision records an authentication decision for a request.
func (m *Metrics) RecordAuthDecision(ctx context.Context, method string, allowed bool) {
	if m == nil {
		return
	}
	m.authDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("allowed", allowed)))
}

// RecordGrantFailure records a failed grant attempt with its OAuth error code.
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, errorCode string) {
	if m == nil {
		return
	}
	m.grantFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("error_code", errorCode)))
}

// RecordStoreOperation records the duration and outcome of a store call.
func (m *Metrics) RecordStoreOperation(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result)))
}
