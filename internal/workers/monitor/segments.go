package monitor

import (
	"strings"

	"github.com/loomline/voicecore/internal/conversation"
)

// validateSegments applies §4.8.3: drop empty-text segments, repair a
// non-positive duration from word count, normalize the speaker field.
func validateSegments(segments []conversation.Segment) []conversation.Segment {
	out := make([]conversation.Segment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		seg.Text = text
		if seg.End <= seg.Start {
			wordCount := len(strings.Fields(text))
			seg.End = seg.Start + 0.5*float64(wordCount)
		}
		seg.Speaker = normalizeSpeaker(seg.Speaker)
		out = append(out, seg)
	}
	return out
}
