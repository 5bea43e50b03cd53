// v2
// internal/telemetry/record.go
package telemetry

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tsromanox/FarmTech/internal/sensor"
)

// TimestampLayout is the UTC RFC 3339 form carried in every record.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Record is one telemetry payload. It is built fresh for each publish.
type Record struct {
	Timestamp   string
	Humidity    float64
	Temperature float64
}

// NewRecord builds a record from a valid sample stamped with at.
func NewRecord(s sensor.Sample, at time.Time) Record {
	return Record{
		Timestamp:   at.UTC().Format(TimestampLayout),
		Humidity:    s.Humidity,
		Temperature: s.Temperature,
	}
}

// Time is the instant the record was stamped with, zero when Timestamp does not parse.
func (r Record) Time() time.Time {
	t, err := time.Parse(TimestampLayout, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Encode renders the wire payload. Field order and spacing are fixed so downstream parsers
// written against the device firmware keep working:
//
//	{"timestamp": "2023-10-27T10:30:00Z","humidity": 45.00,"temperature_C": 22.00}
//
// Floats carry two decimal digits.
func (r Record) Encode() []byte {
	ts, err := json.Marshal(r.Timestamp)
	if err != nil {
		// a string always marshals; keep the payload well formed regardless
		ts = []byte(`""`)
	}
	b := make([]byte, 0, 96)
	b = append(b, `{"timestamp": `...)
	b = append(b, ts...)
	b = append(b, `,"humidity": `...)
	b = strconv.AppendFloat(b, r.Humidity, 'f', 2, 64)
	b = append(b, `,"temperature_C": `...)
	b = strconv.AppendFloat(b, r.Temperature, 'f', 2, 64)
	b = append(b, '}')
	return b
}

// Payload is the decoded form of an encoded record, used by consumers such as the dev broker.
type Payload struct {
	Timestamp   string  `json:"timestamp"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature_C"`
}

// Decode parses an encoded record.
func Decode(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}
