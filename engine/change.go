package engine

type ChangeKind string

const (
	ChangeMessages     ChangeKind = "messages"
	ChangeTyping       ChangeKind = "typing"
	ChangeParticipants ChangeKind = "participants"
	ChangeSendFailed   ChangeKind = "send_failed"
	ChangeChatDeleted  ChangeKind = "chat_deleted"
)

// Change tells a listener which part of the state to re-read.
type Change struct {
	Kind   ChangeKind
	ChatID string

	// Draft and Err are set on ChangeSendFailed.
	Draft *Draft
	Err   error
}
