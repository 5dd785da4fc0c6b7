package usage

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecord_DropsWhenBufferFull(t *testing.T) {
	r := NewRecorder(nil, testLogger())

	for i := 0; i < bufferSize; i++ {
		r.Record(Record{RequestID: "fill"})
	}
	assert.Len(t, r.records, bufferSize)

	r.Record(Record{RequestID: "overflow"})
	assert.Len(t, r.records, bufferSize)
}

func TestClose_WithoutStartDoesNotBlock(t *testing.T) {
	r := NewRecorder(nil, testLogger())
	r.Record(Record{RequestID: "queued"})
	r.Close()
}
