package interviewroom

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type MessageType string

const (
	MessageTypeConnection       MessageType = "connection"
	MessageTypeHeartbeat        MessageType = "heartbeat"
	MessageTypeInterviewAction  MessageType = "interview_action"
	MessageTypeInterviewControl MessageType = "interview_control"
	MessageTypeError            MessageType = "error"
)

type Command string

// Client to server commands
const (
	CommandHeartbeat        Command = "HEARTBEAT"
	CommandAudioStream      Command = "AUDIO_STREAM"
	CommandCompleteSolution Command = "COMPLETE_SOLUTION"
	CommandPartialSolution  Command = "PARTIAL_SOLUTION"
	CommandRequestNext      Command = "REQUEST_NEXT"
)

// Server to client commands
const (
	CommandConnectionEstablished Command = "CONNECTION_ESTABLISHED"
	CommandHeartbeatResponse     Command = "HEARTBEAT_RESPONSE"
	CommandQuestionData          Command = "QUESTION_DATA"
	CommandGetPartialSolution    Command = "GET_PARTIAL_SOLUTION"
	CommandInterruption          Command = "INTERRUPTION"
	CommandSolutionSaved         Command = "SOLUTION_SAVED"
	CommandInterviewCompleted    Command = "INTERVIEW_COMPLETED"
	CommandError                 Command = "ERROR"
)

var commandTypes = map[Command]MessageType{
	CommandConnectionEstablished: MessageTypeConnection,
	CommandHeartbeat:             MessageTypeHeartbeat,
	CommandHeartbeatResponse:     MessageTypeHeartbeat,
	CommandAudioStream:           MessageTypeInterviewAction,
	CommandCompleteSolution:      MessageTypeInterviewAction,
	CommandPartialSolution:       MessageTypeInterviewAction,
	CommandSolutionSaved:         MessageTypeInterviewAction,
	CommandRequestNext:           MessageTypeInterviewControl,
	CommandQuestionData:          MessageTypeInterviewControl,
	CommandGetPartialSolution:    MessageTypeInterviewControl,
	CommandInterruption:          MessageTypeInterviewControl,
	CommandInterviewCompleted:    MessageTypeInterviewControl,
	CommandError:                 MessageTypeError,
}

// ErrUnroutable marks a well-formed message whose type/command pair is not
// part of the protocol. Such messages are dropped, not reported.
var ErrUnroutable = errors.New("unroutable message")

// Type reports the message type c belongs to.
func (c Command) Type() (MessageType, bool) {
	t, ok := commandTypes[c]
	return t, ok
}

// Message is the wire envelope. It is immutable once built; use NewMessage
// or DecodeMessage.
type Message struct {
	typ       MessageType
	command   Command
	payload   Payload
	timestamp int64
}

func NewMessage(command Command, payload Payload) (*Message, error) {
	typ, ok := command.Type()
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrInvalidCommand, command)
	}
	if payload == nil {
		payload = newPayload(command)
	}
	return &Message{
		typ:       typ,
		command:   command,
		payload:   payload,
		timestamp: time.Now().UnixMilli(),
	}, nil
}

func (m *Message) Type() MessageType { return m.typ }

func (m *Message) Command() Command { return m.command }

func (m *Message) Payload() Payload { return m.payload }

// Timestamp is in Unix milliseconds.
func (m *Message) Timestamp() int64 { return m.timestamp }

func (m *Message) wire() map[string]any {
	return map[string]any{
		"type":      m.typ,
		"command":   m.command,
		"payload":   m.payload.Json(),
		"timestamp": m.timestamp,
	}
}

func (m *Message) MarshalJSON() ([]byte, error) {
	if m.command == "" {
		return nil, errors.New("command is empty")
	}
	if m.payload == nil {
		return nil, errors.New("payload is nil")
	}
	return sonic.Marshal(m.wire())
}

func (m *Message) MarshalYAML() ([]byte, error) {
	if m.command == "" {
		return nil, errors.New("command is empty")
	}
	if m.payload == nil {
		return nil, errors.New("payload is nil")
	}
	return yaml.MarshalWithOptions(m.wire(), yaml.UseJSONMarshaler())
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrProtocolDecode, err)
	}
	return m.fromMap(raw)
}

func (m *Message) fromMap(raw map[string]any) error {
	typ, ok := raw["type"].(string)
	if !ok {
		return fmt.Errorf("%w: missing type", shared.ErrProtocolDecode)
	}
	cmd, ok := raw["command"].(string)
	if !ok {
		return fmt.Errorf("%w: missing command", shared.ErrProtocolDecode)
	}
	want, ok := Command(cmd).Type()
	if !ok || want != MessageType(typ) {
		return fmt.Errorf("%w: type %q command %q", ErrUnroutable, typ, cmd)
	}
	body := map[string]any{}
	if v, ok := raw["payload"]; ok && v != nil {
		if body, ok = v.(map[string]any); !ok {
			return fmt.Errorf("%w: payload is not an object", shared.ErrProtocolDecode)
		}
	}
	payload := newPayload(Command(cmd))
	if err := payload.New(body); err != nil {
		return fmt.Errorf("%w: %s payload: %v", shared.ErrProtocolDecode, cmd, err)
	}
	ts, _ := asInt64(raw["timestamp"])
	m.typ = MessageType(typ)
	m.command = Command(cmd)
	m.payload = payload
	m.timestamp = ts
	return nil
}

// DecodeMessage parses one text frame. Errors match shared.ErrProtocolDecode
// or ErrUnroutable.
func DecodeMessage(data []byte) (*Message, error) {
	m := new(Message)
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Payload is implemented by every command body.
type Payload interface {
	New(map[string]any) error
	Json() map[string]any
}

func newPayload(c Command) Payload {
	switch c {
	case CommandHeartbeat, CommandHeartbeatResponse:
		return new(HeartbeatPayload)
	case CommandAudioStream:
		return new(AudioStreamPayload)
	case CommandCompleteSolution, CommandPartialSolution:
		return new(SolutionPayload)
	case CommandConnectionEstablished:
		return new(ConnectionEstablishedPayload)
	case CommandQuestionData:
		return new(QuestionDataPayload)
	case CommandGetPartialSolution, CommandInterruption, CommandSolutionSaved, CommandInterviewCompleted:
		return new(NoticePayload)
	case CommandError:
		return new(ErrorPayload)
	default:
		return new(EmptyPayload)
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func asString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func asBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func asStrings(v any) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return l, nil
	case []any:
		out := make([]string, 0, len(l))
		for i, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}
