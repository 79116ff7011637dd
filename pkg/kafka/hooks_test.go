package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrderAndPanic(t *testing.T) {
	var calls []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			calls = append(calls, "before-1")
			return ctx, km, append(data, '!'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { calls = append(calls, "after-1") },
	}
	second := HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			calls = append(calls, "before-2")
			return ctx, km, data, nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { calls = append(calls, "after-2") },
	}

	chain := NewHookChain(first, nil, second)
	ctx, km, data, err := chain.BeforeHandle(context.Background(), "intelwatch.commands", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x!"), data)

	chain.AfterHandle(ctx, "intelwatch.commands", km, data, nil)
	assert.Equal(t, []string{"before-1", "before-2", "after-2", "after-1"}, calls)

	var seen error
	panicky := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err },
	}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var hookErr *HookError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, "ERR_PANIC", hookErr.Code)
	assert.Equal(t, err, seen)
}

func TestLoggingHookCarriesTraceID(t *testing.T) {
	hook := NewLoggingHook(nil)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := hook.BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]string{"action": "force_check"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"force_check"}`, string(b))

	b, err = encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))
}
