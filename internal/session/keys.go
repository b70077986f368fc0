package session

import "fmt"

// Key naming matches §6.3 exactly — workers in other processes depend on
// these literal strings.

func SessionKey(sessionID string) string {
	return fmt.Sprintf("audio:session:%s", sessionID)
}

func AudioStreamKey(clientID string) string {
	return fmt.Sprintf("audio:stream:%s", clientID)
}

func AudioQueueKey(sessionID string) string {
	return fmt.Sprintf("audio:queue:%s", sessionID)
}

func ResultsStreamKey(sessionID string) string {
	return fmt.Sprintf("transcription:results:%s", sessionID)
}

func InterimTopicKey(sessionID string) string {
	return fmt.Sprintf("transcription:interim:%s", sessionID)
}

func TranscriptionCompleteKey(sessionID string) string {
	return fmt.Sprintf("transcription:complete:%s", sessionID)
}

func CurrentConversationKey(sessionID string) string {
	return fmt.Sprintf("conversation:current:%s", sessionID)
}

func OpenConversationKey(sessionID string) string {
	return fmt.Sprintf("open_conversation:session:%s", sessionID)
}

func ConversationCountKey(sessionID string) string {
	return fmt.Sprintf("session:conversation_count:%s", sessionID)
}

func SpeechDetectionJobKey(clientID string) string {
	return fmt.Sprintf("speech_detection_job:%s", clientID)
}
