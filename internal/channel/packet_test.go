package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	cases := []struct {
		frame     string
		eio, sio  byte
		namespace string
		id        int
		data      string
	}{
		{frame: "2", eio: eioPing, namespace: "/", id: noAckID},
		{frame: `0{"sid":"x"}`, eio: eioOpen, namespace: "/", id: noAckID, data: `{"sid":"x"}`},
		{frame: "40", eio: eioMessage, sio: sioConnect, namespace: "/", id: noAckID},
		{frame: `40{"sid":"s"}`, eio: eioMessage, sio: sioConnect, namespace: "/", id: noAckID, data: `{"sid":"s"}`},
		{frame: `42["hello",1]`, eio: eioMessage, sio: sioEvent, namespace: "/", id: noAckID, data: `["hello",1]`},
		{frame: `4212["hello"]`, eio: eioMessage, sio: sioEvent, namespace: "/", id: 12, data: `["hello"]`},
		{frame: `437[{"result":1}]`, eio: eioMessage, sio: sioAck, namespace: "/", id: 7, data: `[{"result":1}]`},
		{frame: `42/admin,3["x"]`, eio: eioMessage, sio: sioEvent, namespace: "/admin", id: 3, data: `["x"]`},
		{frame: `44{"message":"nope"}`, eio: eioMessage, sio: sioConnectError, namespace: "/", id: noAckID, data: `{"message":"nope"}`},
	}
	for _, tc := range cases {
		t.Run(tc.frame, func(t *testing.T) {
			p, err := decodePacket([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.eio, p.eio)
			assert.Equal(t, tc.sio, p.sio)
			assert.Equal(t, tc.namespace, p.namespace)
			assert.Equal(t, tc.id, p.id)
			assert.Equal(t, tc.data, string(p.data))
		})
	}
}

func TestDecodePacketRejectsMalformedFrames(t *testing.T) {
	for _, frame := range []string{"", "4", `45-["bin"]`} {
		_, err := decodePacket([]byte(frame))
		assert.Error(t, err, frame)
	}
}

func TestEncodeEventAndAck(t *testing.T) {
	frame, err := encodeEvent(noAckID, "message", "hi")
	require.NoError(t, err)
	assert.Equal(t, `42["message","hi"]`, string(frame))

	frame, err = encodeEvent(4, "process-request", map[string]string{"prompt": "p"})
	require.NoError(t, err)
	assert.Equal(t, `424["process-request",{"prompt":"p"}]`, string(frame))

	frame, err = encodeAck(9)
	require.NoError(t, err)
	assert.Equal(t, `439[]`, string(frame))

	frame, err = encodeConnect(nil)
	require.NoError(t, err)
	assert.Equal(t, "40", string(frame))
}

func TestEventArgs(t *testing.T) {
	name, args, err := eventArgs(json.RawMessage(`["execution-result",{"agentName":"a"}]`))
	require.NoError(t, err)
	assert.Equal(t, "execution-result", name)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"agentName":"a"}`, string(args[0]))

	_, _, err = eventArgs(json.RawMessage(`[]`))
	assert.Error(t, err)
	_, _, err = eventArgs(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestConnectErrorMessage(t *testing.T) {
	assert.Equal(t, "denied", connectErrorMessage(json.RawMessage(`{"message":"denied"}`)))
	assert.Equal(t, "plain", connectErrorMessage(json.RawMessage(`"plain"`)))
	assert.Equal(t, "connection refused", connectErrorMessage(nil))
}

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("https://agents.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://agents.example.com/socket.io/?EIO=4&transport=websocket", u)

	u, err = websocketURL("http://127.0.0.1:3000", "/realtime")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3000/realtime/?EIO=4&transport=websocket", u)

	_, err = websocketURL("ftp://x", "")
	assert.Error(t, err)
	_, err = websocketURL("", "")
	assert.Error(t, err)
}
