package conversation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTranscriptVersionWordCount(t *testing.T) {
	tv := TranscriptVersion{Words: []Word{{Word: "hi"}, {Word: "there"}}}
	require.Equal(t, 2, tv.WordCount())
}

func TestActiveTranscriptReturnsNilWhenUnset(t *testing.T) {
	conv := &Conversation{}
	require.Nil(t, conv.ActiveTranscript())
}

func TestSetActiveTranscriptAppendsNewVersion(t *testing.T) {
	conv := &Conversation{}
	conv.SetActiveTranscript(TranscriptVersion{VersionID: "v1", Transcript: "hello"})

	require.Equal(t, "v1", conv.ActiveTranscriptVersionID)
	require.Len(t, conv.TranscriptVersions, 1)
	active := conv.ActiveTranscript()
	require.NotNil(t, active)
	require.Equal(t, "hello", active.Transcript)
}

func TestSetActiveTranscriptReplacesSameVersionID(t *testing.T) {
	conv := &Conversation{}
	conv.SetActiveTranscript(TranscriptVersion{VersionID: "v1", Transcript: "hello"})
	conv.SetActiveTranscript(TranscriptVersion{VersionID: "v1", Transcript: "hello world"})

	require.Len(t, conv.TranscriptVersions, 1)
	require.Equal(t, "hello world", conv.ActiveTranscript().Transcript)
}

func TestSetActiveTranscriptKeepsPriorVersionsOnNewID(t *testing.T) {
	conv := &Conversation{ConversationID: uuid.New()}
	conv.SetActiveTranscript(TranscriptVersion{VersionID: "v1", Transcript: "streaming pass"})
	conv.SetActiveTranscript(TranscriptVersion{VersionID: "v2", Transcript: "batch pass"})

	require.Len(t, conv.TranscriptVersions, 2)
	require.Equal(t, "v2", conv.ActiveTranscriptVersionID)
	require.Equal(t, "batch pass", conv.ActiveTranscript().Transcript)
}
