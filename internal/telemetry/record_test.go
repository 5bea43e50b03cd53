// v1
// internal/telemetry/record_test.go
package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsromanox/FarmTech/internal/sensor"
)

func TestRecordEncodeExactFormat(t *testing.T) {
	at := time.Date(2023, 10, 27, 10, 30, 0, 0, time.UTC)
	r := NewRecord(sensor.NewSample(45, 22, at), at)

	want := `{"timestamp": "2023-10-27T10:30:00Z","humidity": 45.00,"temperature_C": 22.00}`
	if got := string(r.Encode()); got != want {
		t.Fatalf("encode mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestRecordEncodeRoundsToTwoDigits(t *testing.T) {
	r := Record{Timestamp: "2023-10-27T10:30:00Z", Humidity: 33.456, Temperature: -1.5}
	assert.Equal(t, `{"timestamp": "2023-10-27T10:30:00Z","humidity": 33.46,"temperature_C": -1.50}`, string(r.Encode()))
}

func TestNewRecordUsesUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	at := time.Date(2023, 10, 27, 7, 30, 0, 0, loc)
	r := NewRecord(sensor.NewSample(45, 22, at), at)
	assert.Equal(t, "2023-10-27T10:30:00Z", r.Timestamp)
}

func TestDecodeEncodedRecord(t *testing.T) {
	r := Record{Timestamp: "2023-10-27T10:30:00Z", Humidity: 45, Temperature: 22}
	p, err := Decode(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, Payload{Timestamp: "2023-10-27T10:30:00Z", Humidity: 45, Temperature: 22}, p)
}

func TestRecordTime(t *testing.T) {
	at := time.Date(2023, 10, 27, 10, 30, 0, 0, time.UTC)
	assert.True(t, NewRecord(sensor.NewSample(45, 22, at), at).Time().Equal(at))
	assert.True(t, Record{Timestamp: "garbage"}.Time().IsZero())
}
