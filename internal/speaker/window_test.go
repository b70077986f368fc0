package speaker

import (
	"testing"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/stretchr/testify/require"
)

func TestPlanWindowsShortAudioIsOneWindow(t *testing.T) {
	windows := PlanWindows(120, 900, 30)
	require.Len(t, windows, 1)
	require.Equal(t, 0.0, windows[0].StartSeconds)
	require.Equal(t, 120.0, windows[0].EndSeconds)
}

func TestPlanWindowsLongAudioOverlaps(t *testing.T) {
	windows := PlanWindows(2000, 900, 30)
	require.Greater(t, len(windows), 1)
	require.Equal(t, 0.0, windows[0].StartSeconds)
	require.Less(t, windows[1].StartSeconds, windows[0].EndSeconds)
	require.Equal(t, 2000.0, windows[len(windows)-1].EndSeconds)
}

func TestMergeResultsExtendsSameSpeakerOverlap(t *testing.T) {
	r1 := IdentifyResult{Segments: []conversation.Segment{{Start: 0, End: 900, Speaker: "Speaker 1", Text: "hello"}}, Speakers: []string{"Speaker 1"}}
	r2 := IdentifyResult{Segments: []conversation.Segment{{Start: 890, End: 1800, Speaker: "Speaker 1", Text: "hello world"}}, Speakers: []string{"Speaker 1"}}

	merged := MergeResults([]IdentifyResult{r1, r2})
	require.Len(t, merged.Segments, 1)
	require.Equal(t, 1800.0, merged.Segments[0].End)
	require.Equal(t, []string{"Speaker 1"}, merged.Speakers)
}

func TestMergeResultsKeepsDistinctSpeakers(t *testing.T) {
	r1 := IdentifyResult{Segments: []conversation.Segment{{Start: 0, End: 900, Speaker: "Speaker 1"}}}
	r2 := IdentifyResult{Segments: []conversation.Segment{{Start: 890, End: 1800, Speaker: "Speaker 2"}}}

	merged := MergeResults([]IdentifyResult{r1, r2})
	require.Len(t, merged.Segments, 2)
}
