package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordCall(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewMetrics(mp.Meter(instrumentationName), nil)

	ctx := context.Background()
	m.RecordCall(ctx, "text-embedding-3-small", "embed_documents", 100*time.Millisecond, 10, nil)
	m.RecordCall(ctx, "text-embedding-3-small", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordCall(ctx, "text-embedding-3-small", "embed_documents", 25*time.Millisecond, 5, errors.New("generation failed"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	var durationCount uint64
	var errorCount int64
	foundBatch := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "ragd.embedding.duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatalf("duration has unexpected type %T", md.Data)
				}
				for _, dp := range hist.DataPoints {
					durationCount += dp.Count
				}
				if len(hist.DataPoints) != 2 {
					t.Errorf("expected 2 model/operation series, got %d", len(hist.DataPoints))
				}
			case "ragd.embedding.batch_size":
				foundBatch = true
			case "ragd.embedding.errors_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("errors has unexpected type %T", md.Data)
				}
				for _, dp := range sum.DataPoints {
					errorCount += dp.Value
				}
			}
		}
	}

	if durationCount != 3 {
		t.Errorf("expected 3 duration observations, got %d", durationCount)
	}
	if !foundBatch {
		t.Error("batch size histogram not recorded")
	}
	if errorCount != 1 {
		t.Errorf("expected 1 error, got %d", errorCount)
	}
}

func TestMetrics_GlobalFallback(t *testing.T) {
	m := NewMetrics(nil, nil)
	// The global no-op provider accepts records without panicking.
	m.RecordCall(context.Background(), "m", "embed_query", time.Millisecond, 1, errors.New("x"))
}
