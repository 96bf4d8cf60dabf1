package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
		err  error
	}{
		{"setup object", `{"event":"setup","data":{"userId":"u1"}}`, SetupEvent{UserID: "u1"}, nil},
		{"setup user document", `{"event":"setup","data":{"_id":"u1","username":"ann"}}`, SetupEvent{UserID: "u1"}, nil},
		{"setup bare string", `{"event":"setup","data":" u1 "}`, SetupEvent{UserID: "u1"}, nil},
		{"join chat", `{"event":"join chat","data":{"chatId":"c1"}}`, JoinChatEvent{ChatID: "c1"}, nil},
		{"join chat bare", `{"event":"join chat","data":"c1"}`, JoinChatEvent{ChatID: "c1"}, nil},
		{"leave chat", `{"event":"leave chat","data":{"chatId":"c1"}}`, LeaveChatEvent{ChatID: "c1"}, nil},
		{"typing", `{"event":"typing","data":{"chatId":"c1"}}`, TypingEvent{ChatID: "c1"}, nil},
		{"stop typing", `{"event":"stop typing","data":"c1"}`, TypingEvent{ChatID: "c1", Stop: true}, nil},
		{"invalid json", `{`, nil, ErrMalformedEvent},
		{"missing event", `{"data":"c1"}`, nil, ErrMalformedEvent},
		{"missing data", `{"event":"setup"}`, nil, ErrMalformedEvent},
		{"null data", `{"event":"typing","data":null}`, nil, ErrMalformedEvent},
		{"empty id", `{"event":"join chat","data":{"chatId":""}}`, nil, ErrMalformedEvent},
		{"wrong field", `{"event":"join chat","data":{"userId":"u1"}}`, nil, ErrMalformedEvent},
		{"number data", `{"event":"setup","data":42}`, nil, ErrMalformedEvent},
		{"unknown", `{"event":"new message","data":{}}`, nil, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.raw))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Name(), got.Name())
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	raw, err := EncodeFrame(EventConnected, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected"}`, string(raw))

	raw, err = EncodeFrame(EventTyping, TypingPayload{ChatID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":{"chatId":"c1","userId":"u1"}}`, string(raw))

	_, err = EncodeFrame(EventError, json.RawMessage(`{`))
	assert.Error(t, err)
}
