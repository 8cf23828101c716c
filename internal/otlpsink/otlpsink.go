// Package otlpsink emits counter batches as OTLP metrics over gRPC.
package otlpsink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tracepulse-dev/tracepulse-go/internal/sink"
)

const defaultTimeout = 10 * time.Second

// Sink exports batches to an OTLP metrics endpoint.
type Sink struct {
	producerName string
	timeout      time.Duration
	conn         *grpc.ClientConn
	client       colmetricspb.MetricsServiceClient
}

var _ sink.Sink = (*Sink)(nil)

// New creates a Sink for an http:// or https:// endpoint URL. http dials an
// insecure connection, https dials through TLS.
func New(endpoint string, producerName string) (*Sink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OTLP url: %w", err)
	}
	var opts []grpc.DialOption
	switch u.Scheme {
	case "http":
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case "https":
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	var addr string
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		addr = u.Host
	} else {
		addr = fmt.Sprintf("dns:///%s", u.Host)
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP client: %w", err)
	}
	return &Sink{
		producerName: producerName,
		timeout:      defaultTimeout,
		conn:         conn,
		client:       colmetricspb.NewMetricsServiceClient(conn),
	}, nil
}

// Emit implements sink.Sink.
func (s *Sink) Emit(ctx context.Context, batch *sink.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.client.Export(ctx, Request(s.producerName, batch)); err != nil {
		return fmt.Errorf("OTLP export failed: %w", err)
	}
	return nil
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// Request converts one batch into an OTLP export request. Each counter maps
// to a gauge metric named after the counter id; when the batch carries
// descriptors (once per activation), the matching metric also carries the
// descriptor name as its description.
func Request(producerName string, batch *sink.Batch) *colmetricspb.ExportMetricsServiceRequest {
	names := make(map[uint32]string, len(batch.Descriptors))
	for _, d := range batch.Descriptors {
		names[d.CounterID] = d.Name
	}
	metrics := make([]*metricspb.Metric, 0, len(batch.Samples))
	for _, sample := range batch.Samples {
		metrics = append(metrics, &metricspb.Metric{
			Name:        fmt.Sprintf("tracepulse.counter.%d", sample.CounterID),
			Description: names[sample.CounterID],
			Data: &metricspb.Metric_Gauge{
				Gauge: &metricspb.Gauge{
					DataPoints: []*metricspb.NumberDataPoint{{
						TimeUnixNano: batch.TimeUnixNano,
						Attributes: []*commonpb.KeyValue{{
							Key: "counter.id",
							Value: &commonpb.AnyValue{
								Value: &commonpb.AnyValue_IntValue{IntValue: int64(sample.CounterID)},
							},
						}},
						Value: &metricspb.NumberDataPoint_AsDouble{AsDouble: sample.Value},
					}},
				},
			},
		})
	}
	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{
						Key: "service.name",
						Value: &commonpb.AnyValue{
							Value: &commonpb.AnyValue_StringValue{StringValue: producerName},
						},
					},
					{
						Key: "tracepulse.instance_id",
						Value: &commonpb.AnyValue{
							Value: &commonpb.AnyValue_IntValue{IntValue: int64(batch.InstanceID)},
						},
					},
				},
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: "tracepulse"},
				Metrics: metrics,
			}},
		}},
	}
}
