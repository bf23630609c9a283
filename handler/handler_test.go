package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soliplex/ingester/handler"
)

func TestRetryableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := handler.NewRetryableError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, handler.IsFatal(err))
}

func TestFatalError_IsFatal(t *testing.T) {
	cause := errors.New("invalid document format")
	err := handler.NewFatalError(cause)

	assert.True(t, handler.IsFatal(err))
	assert.ErrorIs(t, err, cause)
}

func TestIsFatal_WrappedFatalError(t *testing.T) {
	inner := handler.NewFatalError(errors.New("bad input"))
	wrapped := errors.New("step failed: " + inner.Error())

	// A plain wrapped string doesn't carry the chain — confirms IsFatal
	// requires an actual error chain, not string matching.
	assert.False(t, handler.IsFatal(wrapped))

	viaFmt := fmtErrorf(inner)
	assert.True(t, handler.IsFatal(viaFmt))
}

func fmtErrorf(cause error) error {
	return errors.Join(cause)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := handler.NewRegistry()
	called := false
	r.Register("noop", func(_ context.Context, _ handler.Request) (map[string]any, error) {
		called = true
		return nil, nil
	})

	fn, ok := r.Get("noop")
	require.True(t, ok)

	_, err := fn(context.Background(), handler.Request{})
	require.NoError(t, err)
	assert.True(t, called)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_MustGetPanicsOnMissing(t *testing.T) {
	r := handler.NewRegistry()
	assert.Panics(t, func() {
		r.MustGet("missing")
	})
}

func TestRegistry_Names(t *testing.T) {
	r := handler.NewRegistry()
	r.Register("a", func(context.Context, handler.Request) (map[string]any, error) { return nil, nil })
	r.Register("b", func(context.Context, handler.Request) (map[string]any, error) { return nil, nil })

	names := r.Names()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
