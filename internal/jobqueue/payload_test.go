package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{
		JobID:       "job-123",
		JobType:     JobSpeechDetection,
		Args:        map[string]interface{}{"session_id": "sess-1", "threshold": 3.0, "active": true},
		Description: "poll for speech",
		DependsOn:   nil,
	}

	data, err := p.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, p.JobID, restored.JobID)
	require.Equal(t, p.JobType, restored.JobType)
	require.Equal(t, "sess-1", restored.ArgString("session_id"))
	require.Equal(t, 3.0, restored.ArgFloat("threshold"))
	require.True(t, restored.ArgBool("active"))
}

func TestPayloadArgAccessorsDefaults(t *testing.T) {
	p := Payload{Args: map[string]interface{}{}}
	require.Equal(t, "", p.ArgString("missing"))
	require.Equal(t, 0.0, p.ArgFloat("missing"))
	require.False(t, p.ArgBool("missing"))
}

func TestPayloadArgFloatAcceptsInt(t *testing.T) {
	p := Payload{Args: map[string]interface{}{"count": 4}}
	require.Equal(t, 4.0, p.ArgFloat("count"))
}
