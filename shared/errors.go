package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger       = errors.New("no logger provided")
	ErrNoConfig       = errors.New("no config provided")
	ErrNoRoom         = errors.New("room id is required")
	ErrNoTokenSource  = errors.New("no token source provided")
	ErrNoSender       = errors.New("no sender provided")
	ErrNoDevice       = errors.New("no audio device provided")
	ErrNoSynthesizer  = errors.New("no synthesizer provided")
	ErrNotConnected   = errors.New("not connected")
	ErrClientReleased = errors.New("client released")
	ErrInvalidCommand = errors.New("invalid command")
	ErrNoQuestion     = errors.New("no active question")
	ErrSubmitPending  = errors.New("a submission is already pending")
)

// Failure classes surfaced to subscribers. Match them with errors.Is.
var (
	ErrAuthentication        = errors.New("authentication failed")
	ErrTransientNetwork      = errors.New("transient network failure")
	ErrProtocolDecode        = errors.New("protocol decode failure")
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrImageExport           = errors.New("whiteboard export failed")
	ErrImageUpload           = errors.New("image upload failed")
	ErrMaxReconnect          = errors.New("max reconnection attempts reached")
)

// RoomError attaches the room and command an error happened on.
type RoomError struct {
	Room    string
	Command string
	Err     error
}

func (e *RoomError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("room %s: %v", e.Room, e.Err)
	}
	return fmt.Sprintf("room %s, command %s: %v", e.Room, e.Command, e.Err)
}

func (e *RoomError) Unwrap() error {
	return e.Err
}

// UserMessage maps an error to a short notification for the person in the room.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrMaxReconnect):
		return "Lost connection to the interview room. Please retry."
	case errors.Is(err, ErrMicrophoneUnavailable):
		return "Microphone access is required."
	case errors.Is(err, ErrImageExport), errors.Is(err, ErrImageUpload):
		return "Failed to generate whiteboard image. Please try again."
	case errors.Is(err, ErrNotConnected):
		return "Not connected to interview room. Reconnecting..."
	case errors.Is(err, ErrProtocolDecode):
		return "Received an unreadable message from the interviewer."
	default:
		return "Connection error. Please try again."
	}
}
