// Package whisper adapts a whisper-asr-webservice-compatible HTTP
// endpoint to the stt.BatchProvider contract. Grounded directly on the
// teacher's pkg/io/stt/whisper.WhisperClient: same multipart/form-data
// upload, same /asr?encode=true&task=transcribe query shape, same
// plain-text fallback when the service doesn't return JSON. The
// Xarvis-specific "take note of word: xarvis" wake-word prompt is
// dropped — wake words here are matched on the transcript by the plugin
// router, not primed in the STT request.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/loomline/voicecore/internal/stt"
	"github.com/loomline/voicecore/pkg/Logger"
)

type apiSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	ID    int     `json:"id"`
}

type apiResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Segments []apiSegment `json:"segments,omitempty"`
}

// Client is a batch STT provider backed by a whisper-asr-webservice HTTP
// endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *Logger.Logger
}

func New(baseURL string, logger *Logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

func (c *Client) Name() string { return "whisper" }

// Transcribe uploads a complete WAV payload and returns the parsed
// transcript. Mirrors WhisperClient.TranscribeAudio's multipart upload
// and JSON/plain-text response handling.
func (c *Client) Transcribe(ctx context.Context, wav []byte, sampleRate, channels int) (stt.BatchResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return stt.BatchResult{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return stt.BatchResult{}, fmt.Errorf("writing audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return stt.BatchResult{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/asr?encode=true&task=transcribe&language=en&output=json", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return stt.BatchResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stt.BatchResult{}, fmt.Errorf("calling whisper service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.BatchResult{}, fmt.Errorf("reading whisper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.BatchResult{}, fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, string(raw))
	}
	if len(raw) == 0 {
		return stt.BatchResult{}, fmt.Errorf("whisper service returned empty response")
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Warnf("whisper response was not JSON, treating as plain text: %q", string(raw))
		return stt.BatchResult{Text: string(raw), Language: "en"}, nil
	}

	segments := make([]conversation.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, conversation.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
			Type:  conversation.SegmentSpeech,
		})
	}

	return stt.BatchResult{
		Text:     parsed.Text,
		Segments: segments,
		Language: parsed.Language,
	}, nil
}
