package interviewroom

import (
	"errors"
	"fmt"
	"strconv"
)

type QuestionType string

const (
	QuestionTypeInitial  QuestionType = "INITIAL"
	QuestionTypeFollowUp QuestionType = "FOLLOW_UP"
)

func ParseQuestionType(s string) QuestionType {
	if QuestionType(s) == QuestionTypeFollowUp {
		return QuestionTypeFollowUp
	}
	return QuestionTypeInitial
}

type SolutionType string

const (
	SolutionTypeText       SolutionType = "TEXT"
	SolutionTypeCode       SolutionType = "CODE"
	SolutionTypeWhiteboard SolutionType = "WHITEBOARD"
	SolutionTypeCodeRepo   SolutionType = "CODE_REPO"
)

// ParseSolutionType accepts the current names and the legacy ones the
// backend still sends. Anything unknown is a text answer.
func ParseSolutionType(s string) SolutionType {
	switch s {
	case "CODE", "CODE_SOLUTION", "CODE_ANSWER":
		return SolutionTypeCode
	case "WHITEBOARD", "WHITEBOARD_IMAGE", "IMAGE_ANSWER":
		return SolutionTypeWhiteboard
	case "CODE_REPO", "CODE_REPO_WITH_OUTPUT":
		return SolutionTypeCodeRepo
	default:
		return SolutionTypeText
	}
}

// EmptyPayload is sent for commands without a body, e.g. REQUEST_NEXT.
type EmptyPayload struct{}

func (p *EmptyPayload) New(map[string]any) error { return nil }

func (p *EmptyPayload) Json() map[string]any { return map[string]any{} }

type HeartbeatPayload struct {
	ClientTimestamp int64
	// ServerTimestamp is only set on HEARTBEAT_RESPONSE.
	ServerTimestamp int64
}

func (p *HeartbeatPayload) New(m map[string]any) error {
	ct, ok := asInt64(m["client_timestamp"])
	if !ok {
		return errors.New("missing client_timestamp")
	}
	p.ClientTimestamp = ct
	p.ServerTimestamp, _ = asInt64(m["server_timestamp"])
	return nil
}

func (p *HeartbeatPayload) Json() map[string]any {
	resp := map[string]any{"client_timestamp": p.ClientTimestamp}
	if p.ServerTimestamp != 0 {
		resp["server_timestamp"] = p.ServerTimestamp
	}
	return resp
}

type AudioStreamPayload struct {
	// AudioChunks are base64 encoded, in capture order.
	AudioChunks []string
	Format      string
	// Duration in seconds, nil when unknown.
	Duration *float64
}

func (p *AudioStreamPayload) New(m map[string]any) error {
	chunks, err := asStrings(m["audio_chunks"])
	if err != nil {
		return fmt.Errorf("audio_chunks: %w", err)
	}
	p.AudioChunks = chunks
	p.Format = asString(m, "format")
	if d, ok := asFloat64(m["duration"]); ok {
		p.Duration = &d
	}
	return nil
}

func (p *AudioStreamPayload) Json() map[string]any {
	chunks := p.AudioChunks
	if chunks == nil {
		chunks = []string{}
	}
	resp := map[string]any{
		"audio_chunks": chunks,
		"format":       p.Format,
	}
	if p.Duration != nil {
		resp["duration"] = *p.Duration
	}
	return resp
}

// SolutionPayload is the body of COMPLETE_SOLUTION and PARTIAL_SOLUTION.
// Empty fields are left off the wire.
type SolutionPayload struct {
	TextResponse  string
	CodeResponse  string
	ImageResponse string
	AudioResponse string
}

func (p *SolutionPayload) New(m map[string]any) error {
	p.TextResponse = asString(m, "text_response")
	p.CodeResponse = asString(m, "code_response")
	p.ImageResponse = asString(m, "image_response")
	p.AudioResponse = asString(m, "audio_response")
	return nil
}

func (p *SolutionPayload) Json() map[string]any {
	resp := map[string]any{}
	if p.TextResponse != "" {
		resp["text_response"] = p.TextResponse
	}
	if p.CodeResponse != "" {
		resp["code_response"] = p.CodeResponse
	}
	if p.ImageResponse != "" {
		resp["image_response"] = p.ImageResponse
	}
	if p.AudioResponse != "" {
		resp["audio_response"] = p.AudioResponse
	}
	return resp
}

type ConnectionEstablishedPayload struct {
	RoomID  string
	UserID  string
	Message string
}

func (p *ConnectionEstablishedPayload) New(m map[string]any) error {
	p.RoomID = asString(m, "room_id")
	p.UserID = asString(m, "user_id")
	p.Message = asString(m, "message")
	return nil
}

func (p *ConnectionEstablishedPayload) Json() map[string]any {
	return map[string]any{
		"room_id": p.RoomID,
		"user_id": p.UserID,
		"message": p.Message,
	}
}

type QuestionBody struct {
	Name      string
	Text      string
	TestCases []string
}

type QuestionDataPayload struct {
	// Question is nil on completion-only updates.
	Question             *QuestionBody
	QuestionType         QuestionType
	SolutionType         SolutionType
	IsLastQuestion       bool
	IsInterviewCompleted bool
	Message              string
	Reason               string
}

func (p *QuestionDataPayload) New(m map[string]any) error {
	if raw, ok := m["question"]; ok && raw != nil {
		q, ok := raw.(map[string]any)
		if !ok {
			return errors.New("question is not an object")
		}
		cases, err := asStrings(q["question_test_cases"])
		if err != nil {
			return fmt.Errorf("question_test_cases: %w", err)
		}
		p.Question = &QuestionBody{
			Name:      asString(q, "question_name"),
			Text:      asString(q, "question_text"),
			TestCases: cases,
		}
	}
	p.QuestionType = ParseQuestionType(asString(m, "question_type"))
	p.SolutionType = ParseSolutionType(asString(m, "solution_type"))
	p.IsLastQuestion = asBool(m, "is_last_question")
	p.IsInterviewCompleted = asBool(m, "is_interview_completed")
	p.Message = asString(m, "message")
	p.Reason = asString(m, "reason")
	return nil
}

func (p *QuestionDataPayload) Json() map[string]any {
	resp := map[string]any{
		"question_type":          p.QuestionType,
		"solution_type":          p.SolutionType,
		"is_last_question":       p.IsLastQuestion,
		"is_interview_completed": p.IsInterviewCompleted,
		"message":                p.Message,
		"reason":                 p.Reason,
	}
	if p.Question != nil {
		cases := p.Question.TestCases
		if cases == nil {
			cases = []string{}
		}
		resp["question"] = map[string]any{
			"question_name":       p.Question.Name,
			"question_text":       p.Question.Text,
			"question_test_cases": cases,
		}
	}
	return resp
}

// NoticePayload carries the interviewer's text for INTERRUPTION,
// GET_PARTIAL_SOLUTION, SOLUTION_SAVED and INTERVIEW_COMPLETED.
type NoticePayload struct {
	Message string
	Reason  string
}

func (p *NoticePayload) New(m map[string]any) error {
	p.Message = asString(m, "message")
	p.Reason = asString(m, "reason")
	return nil
}

func (p *NoticePayload) Json() map[string]any {
	return map[string]any{
		"message": p.Message,
		"reason":  p.Reason,
	}
}

type ErrorPayload struct {
	Code    string
	Message string
	Details any
}

func (p *ErrorPayload) New(m map[string]any) error {
	switch c := m["code"].(type) {
	case string:
		p.Code = c
	case nil:
	default:
		n, ok := asInt64(c)
		if !ok {
			return fmt.Errorf("unexpected code type %T", c)
		}
		p.Code = strconv.FormatInt(n, 10)
	}
	p.Message = asString(m, "message")
	p.Details = m["details"]
	return nil
}

func (p *ErrorPayload) Json() map[string]any {
	resp := map[string]any{
		"code":    p.Code,
		"message": p.Message,
	}
	if p.Details != nil {
		resp["details"] = p.Details
	}
	return resp
}

func (p *ErrorPayload) Error() string {
	if p.Code == "" {
		return "server error: " + p.Message
	}
	return fmt.Sprintf("server error %s: %s", p.Code, p.Message)
}
