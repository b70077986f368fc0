package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomline/voicecore/pkg/Logger"
	"github.com/stretchr/testify/require"
)

func TestTranscribeParsesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/asr", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","language":"en","segments":[{"text":"hello world","start":0,"end":1.2,"id":0}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, Logger.New(false))
	result, err := c.Transcribe(context.Background(), []byte("RIFF...wav-bytes"), 16000, 1)
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Text)
	require.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 1)
	require.Equal(t, 1.2, result.Segments[0].End)
}

func TestTranscribeFallsBackToPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := New(srv.URL, Logger.New(false))
	result, err := c.Transcribe(context.Background(), []byte("wav-bytes"), 16000, 1)
	require.NoError(t, err)
	require.Equal(t, "not json at all", result.Text)
	require.Equal(t, "en", result.Language)
}

func TestTranscribeReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, Logger.New(false))
	_, err := c.Transcribe(context.Background(), []byte("wav-bytes"), 16000, 1)
	require.Error(t, err)
}

func TestTranscribeReturnsErrorOnEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, Logger.New(false))
	_, err := c.Transcribe(context.Background(), []byte("wav-bytes"), 16000, 1)
	require.Error(t, err)
}

func TestName(t *testing.T) {
	c := New("http://localhost:9000", Logger.New(false))
	require.Equal(t, "whisper", c.Name())
}
