package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider_InstallsGlobals(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		MetricReader:   reader,
		TraceExporter:  spans,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx, span := StartSessionSpan(context.Background(), "session.generate", "s-1")
	m.RecordTurn(ctx, "narrator")
	span.End()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if findMetric(rm, "talespin.turns") == nil {
		t.Error("turn counter not collected through the global meter provider")
	}
	if name, ok := rm.Resource.Set().Value("service.name"); !ok || name.AsString() != "talespin" {
		t.Errorf("service.name = %v, want talespin", name.AsString())
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	got := spans.GetSpans()
	if len(got) != 1 || got[0].Name != "session.generate" {
		t.Errorf("exported spans = %v, want one session.generate span", got.Snapshots())
	}
}
