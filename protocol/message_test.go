package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want FrameKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, FrameRequest},
		{"request string id", `{"jsonrpc":"2.0","id":"a","method":"page/list"}`, FrameRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, FrameNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, FrameResponse},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"x"}}`, FrameResponse},
		{"missing version", `{"id":1,"method":"initialize"}`, FrameInvalid},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"initialize"}`, FrameInvalid},
		{"null id method", `{"jsonrpc":"2.0","id":null,"method":"x"}`, FrameNotification},
		{"nothing", `{"jsonrpc":"2.0"}`, FrameInvalid},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Kind())
		})
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"jsonrpc":`))
	require.Error(t, err)
}

func TestResponseEchoesRawID(t *testing.T) {
	t.Parallel()
	m, err := NewResponse(json.RawMessage(`42`), map[string]bool{"ok": true})
	require.NoError(t, err)
	data, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":42,"result":{"ok":true}}`, string(data))
}

func TestErrorResponseNullID(t *testing.T) {
	t.Parallel()
	m := NewErrorResponse(nil, ErrParse())
	data, err := Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)
	assert.Contains(t, string(data), `"code":-32700`)
}

func TestNotificationHasNoID(t *testing.T) {
	t.Parallel()
	m, err := NewNotification("stream/chunk", map[string]int{"index": 0})
	require.NoError(t, err)
	assert.Nil(t, m.ID)
	assert.Equal(t, FrameNotification, m.Kind())
}
