package observability

import (
	"context"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	metrics, handler, err := NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	if metrics == nil || handler == nil {
		t.Fatal("NewMetrics() returned nil metrics or handler")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs", 201, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/abc123", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs/abc123/track", 200, 0.020)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/xyz789", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs", 500, 0.001)
}

func TestRecordJobMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}

	metrics.RecordJobSubmitted(ctx, "slurm")
	metrics.RecordJobSubmitted(ctx, "pbs")
	metrics.RecordBackendPoll(ctx, "slurm", "running")
	metrics.RecordJobFinished(ctx, "slurm", "completed", 312.5)
	metrics.RecordJobFinished(ctx, "pbs", "failed", 12.0)
	metrics.RecordJobRetried(ctx, "pbs")
	metrics.RecordJobFinished(ctx, "docker", "cancelled", 1.0)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"/livez", "/livez"},
		{"/metrics", "/metrics"},
		{"/v1/jobs", "/v1/jobs"},
		{"/v1/jobs/", "/v1/jobs/"},
		{"/v1/jobs/abc123", "/v1/jobs/{jobId}"},
		{"/v1/jobs/xyz-789-def", "/v1/jobs/{jobId}"},
		{"/v1/jobs/abc123/track", "/v1/jobs/{jobId}/track"},
		{"/v1/jobs/abc123/retry", "/v1/jobs/{jobId}/retry"},
		{"/v1/jobs/abc123/record", "/v1/jobs/{jobId}/record"},
		{"/v1/state/export", "/v1/state/export"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.input); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
