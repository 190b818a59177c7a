package recorder

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const DefaultMeasurement = "biofeedback_sample"

// PointWriter is the part of api.WriteAPIBlocking the sink needs.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSink writes one point per record, tagged with the run id.
type InfluxSink struct {
	client      influxdb2.Client
	writer      PointWriter
	measurement string
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
	s.client = client
	return s
}

func NewInfluxSinkWithWriter(w PointWriter, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxSink{writer: w, measurement: measurement}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Write(ctx context.Context, r Record) error {
	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddTag("run_id", r.RunID).
		AddField("theta_value", r.Theta).
		AddField("subcutaneous_conduction", r.Conduction).
		AddField("is_relax_mode_activated", r.Relaxing).
		SetTime(r.Date)

	return s.writer.WritePoint(ctx, p)
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
