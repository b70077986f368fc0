package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialEchoPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverCh
	return client, server
}

func TestWriteAndReadFramedPayload(t *testing.T) {
	client, server := dialEchoPair(t)
	t.Cleanup(func() { server.Close() })

	payload := []byte{1, 2, 3, 4, 5}
	go func() {
		_ = WriteFramedPayload(client, Header{Type: TypeAudioChunk}, payload)
	}()

	frame, err := ReadFrame(server)
	require.NoError(t, err)
	require.Equal(t, TypeAudioChunk, frame.Header.Type)
	require.Equal(t, payload, frame.Payload)
}

func TestReadFrameLegacyRawBinary(t *testing.T) {
	client, server := dialEchoPair(t)
	t.Cleanup(func() { server.Close() })

	payload := []byte{9, 9, 9}
	go func() {
		_ = client.WriteMessage(websocket.BinaryMessage, payload)
	}()

	frame, err := ReadFrame(server)
	require.NoError(t, err)
	require.Equal(t, TypeAudioChunk, frame.Header.Type)
	require.Equal(t, payload, frame.Payload)
}

func TestWriteMessageRoundTrip(t *testing.T) {
	client, server := dialEchoPair(t)
	t.Cleanup(func() { server.Close() })

	go func() {
		_ = WriteMessage(client, TypeReady, ReadyData{Message: "hi"})
	}()

	frame, err := ReadFrame(server)
	require.NoError(t, err)
	require.Equal(t, TypeReady, frame.Header.Type)
	require.Nil(t, frame.Payload)

	var data ReadyData
	require.NoError(t, unmarshalData(frame.Header.Data, &data))
	require.Equal(t, "hi", data.Message)
}
