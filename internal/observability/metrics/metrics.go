package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	// ListenAddr serves the Prometheus registry; empty disables it.
	ListenAddr string
}

// Metrics exposes billing pipeline instruments.
type Metrics struct {
	billableUsage   metric.Float64Counter
	contractUsage   metric.Float64Counter
	remittances     metric.Int64Counter
	contractLookups metric.Int64Counter
	statusUpdates   metric.Int64Counter
	retries         metric.Int64Counter
	purged          metric.Int64Counter
	streamMessages  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billableusage"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.billableUsage, err = meter.Float64Counter("billable_usage_total",
		metric.WithDescription("Usage remitted to billing providers, in measurement units.")); err != nil {
		return nil, err
	}
	if m.contractUsage, err = meter.Float64Counter("billable_contract_usage_total",
		metric.WithDescription("Usage absorbed by contract coverage, in measurement units.")); err != nil {
		return nil, err
	}
	if m.remittances, err = meter.Int64Counter("billable_remittances_created_total"); err != nil {
		return nil, err
	}
	if m.contractLookups, err = meter.Int64Counter("billable_contract_lookups_total"); err != nil {
		return nil, err
	}
	if m.statusUpdates, err = meter.Int64Counter("billable_status_updates_total"); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("billable_retries_total"); err != nil {
		return nil, err
	}
	if m.purged, err = meter.Int64Counter("billable_remittances_purged_total"); err != nil {
		return nil, err
	}
	if m.streamMessages, err = meter.Int64Counter("billable_stream_messages_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordBillableUsage adds remitted measurement units.
func (m *Metrics) RecordBillableUsage(ctx context.Context, productID, metricID, provider, status string, value float64) {
	if m == nil || value <= 0 {
		return
	}
	m.billableUsage.Add(ctx, value, metric.WithAttributes(usageAttributes(productID, metricID, provider, status)...))
}

// RecordContractUsage adds measurement units covered by contracts.
func (m *Metrics) RecordContractUsage(ctx context.Context, productID, metricID, provider string, value float64) {
	if m == nil || value <= 0 {
		return
	}
	m.contractUsage.Add(ctx, value, metric.WithAttributes(usageAttributes(productID, metricID, provider, "")...))
}

func (m *Metrics) RecordRemittance(ctx context.Context, productID, status string) {
	if m == nil {
		return
	}
	m.remittances.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("product", strings.TrimSpace(productID)),
		attribute.String("status", strings.TrimSpace(status)),
	)...))
}

// RecordContractLookup counts resolutions by outcome (found, missing, error, config).
func (m *Metrics) RecordContractLookup(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.contractLookups.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("billing_provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordStatusUpdate(ctx context.Context, status, errorCode string, rows int64) {
	if m == nil {
		return
	}
	m.statusUpdates.Add(ctx, rows, metric.WithAttributes(FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("error_code", strings.TrimSpace(errorCode)),
	)...))
}

// RecordRetry counts dead-letter and resend events by stage.
func (m *Metrics) RecordRetry(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("stage", stage))...))
}

func (m *Metrics) RecordPurge(ctx context.Context, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.purged.Add(ctx, rows)
}

func (m *Metrics) RecordStreamMessage(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	m.streamMessages.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("topic", strings.TrimSpace(topic)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func usageAttributes(productID, metricID, provider, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("product", strings.TrimSpace(productID)),
		attribute.String("metric_id", strings.TrimSpace(metricID)),
		attribute.String("billing_provider", strings.TrimSpace(provider)),
	}
	if status != "" {
		attrs = append(attrs, attribute.String("status", status))
	}
	return FilterAttributes(attrs...)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"product":          {},
	"metric_id":        {},
	"billing_provider": {},
	"status":           {},
	"error_code":       {},
	"outcome":          {},
	"stage":            {},
	"topic":            {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
