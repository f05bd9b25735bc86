package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
)

// WriteRecord extracts the numeric readings from a canonical record
// and writes one point per sensor position. Non-numeric kinds are
// ignored. The write is non-blocking.
func (c *Client) WriteRecord(rec *canonical.Record) {
	if !c.IsConnected() {
		return
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": rec.DeviceID,
		"kind":      string(rec.MessageKind),
	}
	if rec.ModuleNumber != nil {
		tags["module"] = strconv.Itoa(*rec.ModuleNumber)
	}

	for _, p := range recordPoints(rec) {
		pointTags := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			pointTags[k] = v
		}
		pointTags["position"] = strconv.Itoa(p.position)
		c.writeAPI.WritePoint(write.NewPoint("sensor_metrics", pointTags, p.fields, ts))
	}
}

// WriteSensorMetric writes a single named measurement.
func (c *Client) WriteSensorMetric(deviceID, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		"sensor_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{"value": value},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields, for the stats exporter.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// sensorPoint is one per-position field set extracted from a record.
type sensorPoint struct {
	position int
	fields   map[string]interface{}
}

// recordPoints projects a record's payload into per-position numeric
// field sets.
func recordPoints(rec *canonical.Record) []sensorPoint {
	switch payload := rec.Payload.(type) {
	case canonical.TempHumPayload:
		points := make([]sensorPoint, 0, len(payload.Sensors))
		for _, s := range payload.Sensors {
			points = append(points, sensorPoint{
				position: s.Position,
				fields: map[string]interface{}{
					"temperature": s.Temperature,
					"humidity":    s.Humidity,
				},
			})
		}
		return points
	case canonical.NoisePayload:
		points := make([]sensorPoint, 0, len(payload.Sensors))
		for _, s := range payload.Sensors {
			points = append(points, sensorPoint{
				position: s.Position,
				fields:   map[string]interface{}{"level": s.Level},
			})
		}
		return points
	case canonical.RfidPayload:
		if rec.MessageKind != decode.KindRfid {
			return nil
		}
		return []sensorPoint{{
			position: 0,
			fields: map[string]interface{}{
				"u_count":    payload.UCount,
				"rfid_count": payload.RfidCount,
			},
		}}
	}
	return nil
}
