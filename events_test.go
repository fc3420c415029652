package interviewroom

import (
	"testing"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageRoutesCommandToType(t *testing.T) {
	tests := []struct {
		command Command
		typ     MessageType
	}{
		{CommandHeartbeat, MessageTypeHeartbeat},
		{CommandAudioStream, MessageTypeInterviewAction},
		{CommandCompleteSolution, MessageTypeInterviewAction},
		{CommandPartialSolution, MessageTypeInterviewAction},
		{CommandRequestNext, MessageTypeInterviewControl},
	}
	for _, tt := range tests {
		t.Run(string(tt.command), func(t *testing.T) {
			msg, err := NewMessage(tt.command, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, msg.Type())
			assert.NotNil(t, msg.Payload())
			assert.NotZero(t, msg.Timestamp())
		})
	}
}

func TestNewMessageRejectsUnknownCommand(t *testing.T) {
	_, err := NewMessage(Command("DANCE"), nil)
	assert.ErrorIs(t, err, shared.ErrInvalidCommand)
}

func TestMessageWireShape(t *testing.T) {
	msg, err := NewMessage(CommandRequestNext, nil)
	require.NoError(t, err)
	data, err := msg.MarshalJSON()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, sonic.Unmarshal(data, &raw))
	assert.Equal(t, "interview_control", raw["type"])
	assert.Equal(t, "REQUEST_NEXT", raw["command"])
	assert.Equal(t, map[string]any{}, raw["payload"])
	assert.Contains(t, raw, "timestamp")
}

func TestDecodeQuestionData(t *testing.T) {
	data := []byte(`{
		"type": "interview_control",
		"command": "QUESTION_DATA",
		"payload": {
			"question": {
				"question_name": "two-sum",
				"question_text": "Find two numbers that add up to a target.",
				"question_test_cases": ["[2,7,11,15], 9"]
			},
			"question_type": "FOLLOW_UP",
			"solution_type": "CODE_SOLUTION",
			"is_last_question": true
		},
		"timestamp": 1700000000000
	}`)
	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, CommandQuestionData, msg.Command())
	assert.EqualValues(t, 1700000000000, msg.Timestamp())

	p, ok := msg.Payload().(*QuestionDataPayload)
	require.True(t, ok)
	require.NotNil(t, p.Question)
	assert.Equal(t, "two-sum", p.Question.Name)
	assert.Equal(t, []string{"[2,7,11,15], 9"}, p.Question.TestCases)
	assert.Equal(t, QuestionTypeFollowUp, p.QuestionType)
	assert.Equal(t, SolutionTypeCode, p.SolutionType)
	assert.True(t, p.IsLastQuestion)
}

func TestDecodeMissingPayloadIsEmpty(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"interview_control","command":"INTERVIEW_COMPLETED"}`))
	require.NoError(t, err)
	p, ok := msg.Payload().(*NoticePayload)
	require.True(t, ok)
	assert.Empty(t, p.Message)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{"type":`, shared.ErrProtocolDecode},
		{"missing command", `{"type":"error"}`, shared.ErrProtocolDecode},
		{"payload not an object", `{"type":"error","command":"ERROR","payload":[1]}`, shared.ErrProtocolDecode},
		{"heartbeat without timestamp", `{"type":"heartbeat","command":"HEARTBEAT_RESPONSE","payload":{}}`, shared.ErrProtocolDecode},
		{"unknown command", `{"type":"interview_control","command":"SING"}`, ErrUnroutable},
		{"mismatched type", `{"type":"heartbeat","command":"QUESTION_DATA","payload":{}}`, ErrUnroutable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseSolutionTypeLegacyNames(t *testing.T) {
	tests := map[string]SolutionType{
		"CODE":                  SolutionTypeCode,
		"CODE_SOLUTION":         SolutionTypeCode,
		"CODE_ANSWER":           SolutionTypeCode,
		"WHITEBOARD_IMAGE":      SolutionTypeWhiteboard,
		"IMAGE_ANSWER":          SolutionTypeWhiteboard,
		"CODE_REPO_WITH_OUTPUT": SolutionTypeCodeRepo,
		"TEXT":                  SolutionTypeText,
		"":                      SolutionTypeText,
		"SOMETHING_NEW":         SolutionTypeText,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseSolutionType(in), in)
	}
}

func TestErrorPayloadNumericCode(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"error","command":"ERROR","payload":{"code":4001,"message":"bad room"}}`))
	require.NoError(t, err)
	p, ok := msg.Payload().(*ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "4001", p.Code)
	assert.Equal(t, "server error 4001: bad room", p.Error())
}

func TestSolutionPayloadOmitsEmptyFields(t *testing.T) {
	p := &SolutionPayload{CodeResponse: "return 1"}
	assert.Equal(t, map[string]any{"code_response": "return 1"}, p.Json())
}

func TestAudioStreamPayloadDuration(t *testing.T) {
	d := 1.5
	p := &AudioStreamPayload{AudioChunks: []string{"AA=="}, Format: "opus", Duration: &d}
	back := new(AudioStreamPayload)
	require.NoError(t, back.New(p.Json()))
	require.NotNil(t, back.Duration)
	assert.InDelta(t, 1.5, *back.Duration, 1e-9)
	assert.Equal(t, []string{"AA=="}, back.AudioChunks)
}

func TestMessageMarshalYAML(t *testing.T) {
	msg, err := NewMessage(CommandHeartbeat, &HeartbeatPayload{ClientTimestamp: 42})
	require.NoError(t, err)
	out, err := msg.MarshalYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "command: HEARTBEAT")
	assert.Contains(t, string(out), "client_timestamp: 42")
}
