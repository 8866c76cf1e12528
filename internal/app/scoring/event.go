package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/synapseshield/shield/internal/domain"
)

// timestampLayouts are the string timestamp forms accepted on the wire.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// epochMillisCutoff separates epoch seconds from epoch milliseconds.
const epochMillisCutoff = 1e12

// ParseTelemetry decodes one JSON event into a reading. Feature values go
// through the same coercion as dataset files, so numeric strings are fine and
// null or missing features are zero. The device id may arrive as deviceId or
// device_id. The timestamp is informational: anything unparsable is left zero.
func ParseTelemetry(body []byte) (domain.Telemetry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.Telemetry{}, fmt.Errorf("event is not a JSON object: %w", domain.ErrMalformedTelemetry)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return domain.Telemetry{}, fmt.Errorf("%v: %w", err, domain.ErrMalformedTelemetry)
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.Telemetry{}, fmt.Errorf("trailing data after event: %w", domain.ErrMalformedTelemetry)
	}

	var values [4]float64
	for i, name := range domain.Features {
		raw, ok := rec[name]
		if !ok || raw == nil {
			continue
		}
		v, err := domain.ToFloat(raw)
		if err != nil {
			return domain.Telemetry{}, fmt.Errorf("%s: %v: %w", name, err, domain.ErrMalformedTelemetry)
		}
		values[i] = v
	}

	return domain.Telemetry{
		DeviceID:       eventDeviceID(rec),
		CPUUsage:       values[0],
		NetworkPackets: values[1],
		FailedLogins:   values[2],
		TrafficVolume:  values[3],
		Timestamp:      eventTimestamp(rec["timestamp"]),
	}, nil
}

func eventDeviceID(rec map[string]any) string {
	for _, k := range []string{"deviceId", "device_id"} {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func eventTimestamp(raw any) time.Time {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochTime(n)
		}
	case json.Number:
		if n, err := v.Float64(); err == nil {
			return epochTime(n)
		}
	}
	return time.Time{}
}

func epochTime(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > epochMillisCutoff {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}
