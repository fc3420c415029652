package interviewroom

import (
	"errors"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"go.uber.org/zap"
)

// Response is the normalized form of every inbound message handed to
// response subscribers.
type Response struct {
	Room    string
	Type    MessageType
	Command Command
	Message string
	Reason  string
	// Question is set on QUESTION_DATA updates that carry one.
	Question             *Question
	IsLastQuestion       bool
	IsInterviewCompleted bool
	Raw                  *Message
}

type Interruption struct {
	Message string
	Reason  string
}

func (c *Client) dispatch(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		if errors.Is(err, ErrUnroutable) {
			c.metrics.Unroutable(c.room)
			c.logger.Warn("dropping unroutable message", zap.Error(err))
			return
		}
		c.metrics.DecodeFailure(c.room)
		c.logger.Error("decoding inbound message", err, zap.ByteString("data", data))
		c.onError.emit(&shared.RoomError{Room: c.room, Err: err})
		return
	}
	c.metrics.Received(string(msg.Command()))
	c.logger.Trace("message received", zap.String("command", string(msg.Command())))

	resp := &Response{
		Room:    c.room,
		Type:    msg.Type(),
		Command: msg.Command(),
		Raw:     msg,
	}
	var (
		interruption *Interruption
		serverErr    error
	)
	switch p := msg.Payload().(type) {
	case *HeartbeatPayload:
		if msg.Command() == CommandHeartbeatResponse {
			c.recordLatency(p)
		}
	case *ConnectionEstablishedPayload:
		resp.Message = p.Message
		c.logger.Info("interview room acknowledged connection", zap.String("user_id", p.UserID))
	case *QuestionDataPayload:
		resp.Message = p.Message
		resp.Reason = p.Reason
		resp.IsLastQuestion = p.IsLastQuestion
		resp.IsInterviewCompleted = p.IsInterviewCompleted
		if p.Question != nil {
			resp.Question = &Question{
				Name:           p.Question.Name,
				Text:           p.Question.Text,
				TestCases:      p.Question.TestCases,
				Type:           p.QuestionType,
				SolutionType:   p.SolutionType,
				IsLastQuestion: p.IsLastQuestion,
			}
		}
	case *NoticePayload:
		resp.Message = p.Message
		resp.Reason = p.Reason
		switch msg.Command() {
		case CommandInterviewCompleted:
			resp.IsInterviewCompleted = true
		case CommandInterruption:
			interruption = &Interruption{Message: p.Message, Reason: p.Reason}
		}
	case *ErrorPayload:
		resp.Message = p.Message
		serverErr = &shared.RoomError{Room: c.room, Command: string(CommandError), Err: p}
	}

	c.onResponse.emit(resp)
	if interruption != nil {
		c.onInterruption.emit(interruption)
	}
	if serverErr != nil {
		c.logger.Warn("interviewer reported an error", zap.Error(serverErr))
		c.onError.emit(serverErr)
	}
}

func (c *Client) recordLatency(p *HeartbeatPayload) {
	rtt := time.Duration(time.Now().UnixMilli()-p.ClientTimestamp) * time.Millisecond
	if rtt < 0 {
		return
	}
	c.mu.Lock()
	c.latency = rtt
	c.mu.Unlock()
	c.metrics.ObserveHeartbeat(rtt)
	c.logger.Debug("heartbeat round trip", zap.Duration("rtt", rtt))
}
