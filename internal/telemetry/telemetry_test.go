package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "cifsd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, ClientIP("192.168.1.1"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("ClientAddr", func(t *testing.T) {
		attr := ClientAddr("192.168.1.100:12345")
		assert.Equal(t, AttrClientAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:12345", attr.Value.AsString())
	})

	t.Run("SMBCommand", func(t *testing.T) {
		attr := SMBCommand("READ_ANDX")
		assert.Equal(t, AttrSMBCommand, string(attr.Key))
		assert.Equal(t, "READ_ANDX", attr.Value.AsString())
	})

	t.Run("SMBMessageID", func(t *testing.T) {
		attr := SMBMessageID(42)
		assert.Equal(t, AttrSMBMessageID, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("SMBSessionID", func(t *testing.T) {
		attr := SMBSessionID(7)
		assert.Equal(t, AttrSMBSessionID, string(attr.Key))
		assert.Equal(t, int64(7), attr.Value.AsInt64())
	})

	t.Run("SMBTreeID", func(t *testing.T) {
		attr := SMBTreeID(3)
		assert.Equal(t, AttrSMBTreeID, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("SMBFileID", func(t *testing.T) {
		attr := SMBFileID(0x1234)
		assert.Equal(t, AttrSMBFileID, string(attr.Key))
		assert.Equal(t, int64(0x1234), attr.Value.AsInt64())
	})

	t.Run("SMBPersistentID", func(t *testing.T) {
		attr := SMBPersistentID(0xdeadbeef)
		assert.Equal(t, AttrSMBPersistentID, string(attr.Key))
		assert.Equal(t, int64(0xdeadbeef), attr.Value.AsInt64())
	})

	t.Run("SMBDialect", func(t *testing.T) {
		attr := SMBDialect("NT LM 0.12")
		assert.Equal(t, AttrSMBDialect, string(attr.Key))
		assert.Equal(t, "NT LM 0.12", attr.Value.AsString())
	})

	t.Run("SMBLockRange", func(t *testing.T) {
		attrs := SMBLockRange(0, 4096)
		require.Len(t, attrs, 2)
		assert.Equal(t, AttrSMBLockStart, string(attrs[0].Key))
		assert.Equal(t, AttrSMBLockEnd, string(attrs[1].Key))
	})

	t.Run("UID", func(t *testing.T) {
		attr := UID(1000)
		assert.Equal(t, AttrUID, string(attr.Key))
		assert.Equal(t, int64(1000), attr.Value.AsInt64())
	})

	t.Run("GID", func(t *testing.T) {
		attr := GID(1000)
		assert.Equal(t, AttrGID, string(attr.Key))
		assert.Equal(t, int64(1000), attr.Value.AsInt64())
	})

	t.Run("Username", func(t *testing.T) {
		attr := Username("alice")
		assert.Equal(t, AttrUsername, string(attr.Key))
		assert.Equal(t, "alice", attr.Value.AsString())
	})

	t.Run("FSOffset", func(t *testing.T) {
		attr := FSOffset(1024)
		assert.Equal(t, AttrOffset, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})

	t.Run("FSCount", func(t *testing.T) {
		attr := FSCount(4096)
		assert.Equal(t, AttrCount, string(attr.Key))
		assert.Equal(t, int64(4096), attr.Value.AsInt64())
	})

	t.Run("FSHandle", func(t *testing.T) {
		attr := FSHandle([]byte{0x01, 0x02, 0x03, 0x04})
		assert.Equal(t, AttrHandle, string(attr.Key))
		assert.Equal(t, "01020304", attr.Value.AsString())
	})
}

func TestStartSMBSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSMBSpan(ctx, "READ_ANDX", 1)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartSMBSpan(ctx, "WRITE_ANDX", 2, FSOffset(0), FSCount(4096))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartProtocolSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartProtocolSpan(ctx, "cifs", "negotiate")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartComponentSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartComponentSpan(ctx, "mft", "lookup")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartComponentSpan(ctx, "fidtable", "allocate", FSCount(1))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}
