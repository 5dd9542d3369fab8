package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermoline/internal/ingest"
)

func TestDecodeReading(t *testing.T) {
	reading, err := ingest.DecodeReading([]byte(`{"thermometerId":"therm-1","temperature":-18.5,"timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "therm-1", reading.ThermometerID)
	assert.Equal(t, -18.5, reading.Temperature)
	assert.Equal(t, int64(1700000000000), reading.Timestamp)
}

func TestDecodeReadingRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not json":             `<xml/>`,
		"missing thermometer":  `{"temperature":1,"timestamp":1700000000000}`,
		"missing timestamp":    `{"thermometerId":"therm-1","temperature":1}`,
		"negative timestamp":   `{"thermometerId":"therm-1","temperature":1,"timestamp":-5}`,
		"wrong temperature type": `{"thermometerId":"therm-1","temperature":"warm","timestamp":1}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingest.DecodeReading([]byte(payload))
			assert.Error(t, err)
		})
	}
}
