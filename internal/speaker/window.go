package speaker

import "github.com/loomline/voicecore/internal/conversation"

// Window is one overlapping slice of audio handed to the speaker
// service independently, used when a conversation's audio exceeds the
// long-audio threshold (§4.9 speaker_recognition).
type Window struct {
	StartSeconds float64
	EndSeconds   float64
}

// PlanWindows splits [0, totalSeconds) into overlapping windows of the
// given size, so no single call to Client.Identify has to hold more than
// segmentSeconds of audio in memory at once.
func PlanWindows(totalSeconds float64, segmentSeconds, overlapSeconds int) []Window {
	if segmentSeconds <= 0 || totalSeconds <= float64(segmentSeconds) {
		return []Window{{StartSeconds: 0, EndSeconds: totalSeconds}}
	}
	step := float64(segmentSeconds - overlapSeconds)
	if step <= 0 {
		step = float64(segmentSeconds)
	}

	var windows []Window
	for start := 0.0; start < totalSeconds; start += step {
		end := start + float64(segmentSeconds)
		if end > totalSeconds {
			end = totalSeconds
		}
		windows = append(windows, Window{StartSeconds: start, EndSeconds: end})
		if end == totalSeconds {
			break
		}
	}
	return windows
}

// MergeResults combines per-window IdentifyResults into one segment
// list, applying §4.9's overlap-merge rule: within an overlap, segments
// from the same speaker that overlap in time are extended rather than
// duplicated; segments from different speakers keep whichever has the
// higher confidence and the boundary is pushed to that speaker's edge.
// Confidence isn't carried on conversation.Segment, so ties (the common
// case — most providers don't expose per-segment confidence) keep the
// earlier window's segment whole and trim the later one at its edge
// (dropping it if nothing is left), matching "first writer wins" for
// determinism.
func MergeResults(results []IdentifyResult) IdentifyResult {
	var merged []conversation.Segment
	speakerSet := map[string]struct{}{}

	for _, r := range results {
		for _, seg := range r.Segments {
			if i := overlappingSameSpeaker(merged, seg); i >= 0 {
				if seg.End > merged[i].End {
					merged[i].End = seg.End
				}
				if seg.Text != "" {
					merged[i].Text = seg.Text
				}
				continue
			}
			for _, e := range merged {
				if e.Speaker == seg.Speaker || seg.Start >= e.End || e.Start >= seg.End {
					continue
				}
				if seg.Start >= e.Start {
					seg.Start = e.End
				} else {
					seg.End = e.Start
				}
			}
			if seg.End <= seg.Start {
				continue
			}
			merged = append(merged, seg)
		}
		for _, sp := range r.Speakers {
			speakerSet[sp] = struct{}{}
		}
	}

	speakers := make([]string, 0, len(speakerSet))
	for sp := range speakerSet {
		speakers = append(speakers, sp)
	}

	return IdentifyResult{Segments: merged, Speakers: speakers}
}

func overlappingSameSpeaker(existing []conversation.Segment, seg conversation.Segment) int {
	for i, e := range existing {
		if e.Speaker != seg.Speaker {
			continue
		}
		if seg.Start <= e.End && e.Start <= seg.End {
			return i
		}
	}
	return -1
}
