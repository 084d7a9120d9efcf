package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("returns canned response", func(t *testing.T) {
		m := NewMockModel("mock", "mock")
		m.AddResponse("ping", `{"ok":true}`)

		text, _, err := Collect(ctx, m, UserRequest("sys", "ping"))
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, text)

		reqs := m.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "sys", reqs[0].Instructions)
	})

	t.Run("streaming yields the full text", func(t *testing.T) {
		m := NewMockModel("mock", "mock")
		m.SetFallback("hello")
		req := UserRequest("", "anything")
		req.Stream = true

		text, _, err := Collect(ctx, m, req)
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("propagates model errors", func(t *testing.T) {
		m := NewMockModel("mock", "mock")
		boom := errors.New("rate limited")
		m.SetError(boom)

		_, _, err := Collect(ctx, m, UserRequest("", "x"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("rejects empty requests", func(t *testing.T) {
		m := NewMockModel("mock", "mock")
		_, _, err := Collect(ctx, m, Request{})
		assert.Error(t, err)
	})
}
