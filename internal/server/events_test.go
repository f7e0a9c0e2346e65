package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseConstructors(t *testing.T) {
	tcases := []struct {
		name         string
		evt          *ServerEvent
		expectedCode int
	}{
		{name: "ok", evt: NoErrOK(1, "payload"), expectedCode: http.StatusOK},
		{name: "channel not found", evt: ErrChannelNotFound(1), expectedCode: http.StatusNotFound},
		{name: "message not found", evt: ErrMessageNotFound(1), expectedCode: http.StatusNotFound},
		{name: "not a member", evt: ErrNotAMember(1), expectedCode: http.StatusForbidden},
		{name: "invalid event", evt: ErrInvalidEvent(1), expectedCode: http.StatusBadRequest},
		{name: "rate limited", evt: ErrRateLimited(1), expectedCode: http.StatusTooManyRequests},
		{name: "internal error", evt: ErrInternalError(1), expectedCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			require.NotNil(t, tc.evt.Response, "expected a response payload")
			assert.Equal(t, 1, tc.evt.Id, "expected response correlated to the request id")
			assert.Equal(t, tc.expectedCode, tc.evt.Response.ResponseCode)
			assert.False(t, tc.evt.Timestamp.IsZero(), "expected timestamp to be set")
			if tc.expectedCode != http.StatusOK {
				assert.NotEmpty(t, tc.evt.Response.Error, "expected error text on failure responses")
			}
		})
	}
}

func TestClientEventUnmarshal(t *testing.T) {
	raw := []byte(`{"id":3,"join":{"channel_id":"c1"}}`)

	var evt ClientEvent
	require.NoError(t, json.Unmarshal(raw, &evt))
	assert.Equal(t, 3, evt.Id)
	require.NotNil(t, evt.Join, "expected join payload decoded")
	assert.Equal(t, "c1", evt.Join.ChannelId)
	assert.Nil(t, evt.Leave, "expected unrelated payloads to stay nil")
}

func TestServerEventMarshalOmitsEmpty(t *testing.T) {
	evt := &ServerEvent{
		BaseEvent:      BaseEvent{Id: 1, Timestamp: Now()},
		MessageDeleted: &MessageDeleted{MessageId: "m1", ChannelId: "c1"},
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "message_deleted")
	assert.NotContains(t, decoded, "message_created", "expected unset payloads omitted")
	assert.NotContains(t, decoded, "response")
}
