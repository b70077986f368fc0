package audiofabric

import (
	"encoding/json"
	"testing"

	"github.com/loomline/voicecore/internal/conversation"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func xmessage(chunkIndex, text, provider string, isFinal bool, words []conversation.Word) redis.XMessage {
	wordsJSON, _ := json.Marshal(words)
	return redis.XMessage{
		Values: map[string]interface{}{
			"chunk_index": chunkIndex,
			"text":        text,
			"provider":    provider,
			"is_final":    map[bool]string{true: "1", false: "0"}[isFinal],
			"words":       string(wordsJSON),
		},
	}
}

func TestAggregateOrdersByChunkIndex(t *testing.T) {
	msgs := []redis.XMessage{
		xmessage("1", " world", "whisper", true, []conversation.Word{{Word: "world", Start: 1, End: 2}}),
		xmessage("0", "hello", "whisper", true, []conversation.Word{{Word: "hello", Start: 0, End: 1}}),
	}

	view := Aggregate(msgs)

	require.Equal(t, "hello world", view.Text)
	require.Equal(t, 2, view.ChunkCount)
	require.Equal(t, "whisper", view.Provider)
	require.True(t, view.IsFinal)
	require.Len(t, view.Words, 2)
}

func TestAggregateEmptyMessages(t *testing.T) {
	view := Aggregate(nil)
	require.Equal(t, "", view.Text)
	require.Equal(t, 0, view.ChunkCount)
	require.Equal(t, 0, view.WordCount())
	require.Equal(t, float64(0), view.LastWordEnd())
}

func TestWordCount(t *testing.T) {
	msgs := []redis.XMessage{
		xmessage("0", "hi there", "whisper", true, []conversation.Word{
			{Word: "hi", Start: 0, End: 0.5},
			{Word: "there", Start: 0.5, End: 1.0},
		}),
	}
	view := Aggregate(msgs)
	require.Equal(t, 2, view.WordCount())
}

func TestLastWordEndReturnsMaxEnd(t *testing.T) {
	msgs := []redis.XMessage{
		xmessage("0", "", "whisper", false, []conversation.Word{
			{Word: "a", Start: 0, End: 3.5},
			{Word: "b", Start: 3.5, End: 1.2},
		}),
	}
	view := Aggregate(msgs)
	require.Equal(t, 3.5, view.LastWordEnd())
}
