package jobqueue

import "encoding/json"

// JobType names a registered handler (§4.3 "handler function id").
type JobType string

const (
	JobSpeechDetection    JobType = "speech_detection"
	JobAudioPersistence   JobType = "audio_persistence"
	JobConversationMonitor JobType = "conversation_monitor"
	JobBatchRetranscribe  JobType = "batch_retranscribe"
	JobSpeakerRecognition JobType = "speaker_recognition"
	JobMemoryExtraction   JobType = "memory_extraction"
	JobTitleSummary       JobType = "title_summary"
	JobEventDispatch      JobType = "event_dispatch"
	JobTranscriptionFallback JobType = "transcription_fallback"
	JobSpeakerCheck       JobType = "speaker_check"
	JobStreamingTranscription JobType = "streaming_transcription"
)

// Named queues (§4.3).
const (
	QueueTranscription = "transcription"
	QueueMemory        = "memory"
	QueueAudio         = "audio"
	QueueDefault       = "default"
)

// Payload is the envelope every job handler receives. Args carries
// handler-specific positional data as a JSON object so the queue layer
// stays generic across very different job shapes (long-running pollers
// vs. one-shot DAG stages).
type Payload struct {
	JobID       string                 `json:"job_id"`
	JobType     JobType                `json:"job_type"`
	Args        map[string]interface{} `json:"args"`
	Description string                 `json:"description"`
	// DependsOn lists every job id this one is gated on — a job only
	// promotes from deferred to queued once all of them finish (§4.9's
	// event_dispatch is the first multi-parent case: title_summary and
	// memory_extraction both have to land first).
	DependsOn []string `json:"depends_on,omitempty"`
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func Unmarshal(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}

// ArgString/ArgFloat/ArgBool are small accessors so handlers don't
// repeat map type-assertions for every field.
func (p Payload) ArgString(key string) string {
	if v, ok := p.Args[key].(string); ok {
		return v
	}
	return ""
}

func (p Payload) ArgFloat(key string) float64 {
	switch v := p.Args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func (p Payload) ArgBool(key string) bool {
	v, _ := p.Args[key].(bool)
	return v
}
