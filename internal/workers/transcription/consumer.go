// Package transcription implements the Streaming Transcription Consumer
// (C6, §4.6): one job per session that tails the audio stream via its
// own consumer group, feeds a streaming STT provider and republishes
// every interim/final result onto the results stream and the interim
// pub/sub topic the gateway relays to the client.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/loomline/voicecore/internal/audiofabric"
	"github.com/loomline/voicecore/internal/gateway"
	"github.com/loomline/voicecore/internal/jobqueue"
	"github.com/loomline/voicecore/internal/session"
	"github.com/loomline/voicecore/internal/stt"
	"github.com/loomline/voicecore/pkg/Logger"
)

const consumerGroup = "transcription"

type Worker struct {
	fabric   *audiofabric.Fabric
	store    *session.Store
	provider stt.StreamingProvider
	logger   *Logger.Logger
}

func New(fabric *audiofabric.Fabric, store *session.Store, provider stt.StreamingProvider, logger *Logger.Logger) *Worker {
	return &Worker{fabric: fabric, store: store, provider: provider, logger: logger}
}

func (w *Worker) Handle(ctx context.Context, p jobqueue.Payload) error {
	sessionID := p.ArgString("session_id")
	clientID := p.ArgString("client_id")

	format := session.AudioFormat{
		Rate:     int(p.ArgFloat("rate")),
		Width:    int(p.ArgFloat("width")),
		Channels: int(p.ArgFloat("channels")),
	}

	if err := w.fabric.EnsureConsumerGroup(ctx, clientID, consumerGroup, "0"); err != nil {
		return fmt.Errorf("attaching transcription consumer group: %w", err)
	}

	stream, err := w.provider.OpenStream(ctx, sessionID, format)
	if err != nil {
		w.setTranscriptionError(ctx, sessionID, err)
		return fmt.Errorf("opening streaming provider: %w", err)
	}
	defer stream.Close()

	resultsDone := make(chan struct{})
	chunkIndex := 0
	go func() {
		defer close(resultsDone)
		for result := range stream.Results() {
			w.publishResult(ctx, sessionID, chunkIndex, result)
			chunkIndex++
		}
	}()

	consumer := "transcription-" + sessionID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := w.fabric.ReadAudio(ctx, clientID, consumerGroup, consumer, 50, 5*time.Second)
		if err != nil {
			w.setTranscriptionError(ctx, sessionID, err)
			return fmt.Errorf("reading audio stream: %w", err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				chunkID, _ := msg.Values["chunk_id"].(string)
				if chunkID == audiofabric.EndSentinelChunkID {
					_ = stream.Close()
					<-resultsDone
					_ = w.fabric.AckAudio(ctx, clientID, consumerGroup, msg.ID)
					w.store.SetTranscriptionComplete(ctx, sessionID, "ok")
					return nil
				}

				data, _ := msg.Values["data"].(string)
				if data != "" {
					if err := stream.Write(ctx, []byte(data)); err != nil {
						w.setTranscriptionError(ctx, sessionID, err)
						_ = w.fabric.AckAudio(ctx, clientID, consumerGroup, msg.ID)
						w.store.SetTranscriptionComplete(ctx, sessionID, "error")
						return fmt.Errorf("writing to stream: %w", err)
					}
				}
				_ = w.fabric.AckAudio(ctx, clientID, consumerGroup, msg.ID)
			}
		}
	}
}

func (w *Worker) publishResult(ctx context.Context, sessionID string, chunkIndex int, result stt.StreamResult) {
	wordsJSON, _ := json.Marshal(result.Words)
	segmentsJSON, _ := json.Marshal(result.Segments)

	entry := audiofabric.ResultEntry{
		ChunkIndex: strconv.Itoa(chunkIndex),
		Text:       result.Text,
		Words:      wordsJSON,
		Segments:   segmentsJSON,
		Provider:   w.provider.Name(),
		IsFinal:    result.IsFinal,
	}
	if err := w.fabric.PublishResult(ctx, sessionID, entry); err != nil {
		w.logger.Errorf("transcription: publishing result for session %s: %v", sessionID, err)
		return
	}

	payload, err := gateway.EncodeMessage(gateway.TypeInterimTranscript, gateway.InterimTranscriptData{
		Text:     result.Text,
		IsFinal:  result.IsFinal,
		Words:    result.Words,
		Segments: result.Segments,
	})
	if err != nil {
		return
	}
	if err := w.fabric.PublishInterim(ctx, sessionID, payload); err != nil {
		w.logger.Errorf("transcription: publishing interim for session %s: %v", sessionID, err)
	}
}

func (w *Worker) setTranscriptionError(ctx context.Context, sessionID string, err error) {
	if setErr := w.store.SetField(ctx, sessionID, "transcription_error", err.Error()); setErr != nil {
		w.logger.Errorf("transcription: recording transcription_error for session %s: %v", sessionID, setErr)
	}
}
