package audiofabric

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/redis/go-redis/v9"
)

// CombinedView is the aggregator's read-side join of the results stream
// into the shape §4.2 describes: concatenated text, flattened words and
// segments, a chunk count, and the provider name. When both streaming
// and batch results exist for the same conversation, the batch version
// supersedes (callers achieve this by aggregating only the relevant
// provider's entries; Aggregate itself does not tell batch and streaming
// entries apart, and ResultEntry carries no field marking them).
type CombinedView struct {
	Text       string
	Words      []conversation.Word
	Segments   []conversation.Segment
	ChunkCount int
	Provider   string
	IsFinal    bool
}

// Aggregate folds raw results-stream messages into a CombinedView,
// preserving publication order (XRANGE already returns entries in
// stream order, so no further sorting is needed beyond chunk index for
// human-readability of the concatenated text).
func Aggregate(messages []redis.XMessage) CombinedView {
	type entry struct {
		chunkIndex int
		text       string
		words      []conversation.Word
		segments   []conversation.Segment
		provider   string
		isFinal    bool
	}

	entries := make([]entry, 0, len(messages))
	for _, m := range messages {
		e := entry{}
		if v, ok := m.Values["chunk_index"].(string); ok {
			e.chunkIndex, _ = strconv.Atoi(v)
		}
		if v, ok := m.Values["text"].(string); ok {
			e.text = v
		}
		if v, ok := m.Values["provider"].(string); ok {
			e.provider = v
		}
		if v, ok := m.Values["is_final"].(string); ok {
			e.isFinal = v == "1" || v == "true"
		}
		if v, ok := m.Values["words"].(string); ok && v != "" {
			_ = json.Unmarshal([]byte(v), &e.words)
		}
		if v, ok := m.Values["segments"].(string); ok && v != "" {
			_ = json.Unmarshal([]byte(v), &e.segments)
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].chunkIndex < entries[j].chunkIndex })

	view := CombinedView{ChunkCount: len(entries)}
	for _, e := range entries {
		view.Text += e.text
		view.Words = append(view.Words, e.words...)
		view.Segments = append(view.Segments, e.segments...)
		view.Provider = e.provider
		view.IsFinal = e.isFinal
	}
	return view
}

// WordCount is the classification input used by the Speech-Detection
// Job (§4.7 step 2).
func (c CombinedView) WordCount() int {
	return len(c.Words)
}

// LastWordEnd returns the audio-time end of the last word, used by the
// Conversation Monitor's inactivity timer (§4.8.2 step 7), which measures
// in audio time rather than wall-clock.
func (c CombinedView) LastWordEnd() float64 {
	if len(c.Words) == 0 {
		return 0
	}
	last := c.Words[0].End
	for _, w := range c.Words {
		if w.End > last {
			last = w.End
		}
	}
	return last
}
