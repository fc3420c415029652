package interviewroom

import (
	"sync"

	"github.com/google/uuid"
)

// Question is the active question. It is replaced wholesale on every
// QUESTION_DATA update.
type Question struct {
	Name           string
	Text           string
	TestCases      []string
	Type           QuestionType
	SolutionType   SolutionType
	IsLastQuestion bool
	// Placeholder is the code template shown in the editor.
	Placeholder string
	// RepeatID changes on every update, so a repeated question text is
	// still a new question.
	RepeatID string
}

// AnswerState is a point-in-time copy of the answer being composed.
type AnswerState struct {
	Text     string
	Code     string
	ImageRef string
	Audio    string
}

// SessionState is the store shared by the view layer and the aggregator.
type SessionState struct {
	mu          sync.RWMutex
	question    *Question
	answer      AnswerState
	placeholder string
}

func NewSessionState(placeholder string) *SessionState {
	return &SessionState{placeholder: placeholder}
}

// SetQuestion installs q and resets the answer. Code questions start with
// the placeholder template in the editor.
func (s *SessionState) SetQuestion(q Question) Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.TestCases = append([]string(nil), q.TestCases...)
	q.Placeholder = s.placeholder
	q.RepeatID = uuid.NewString()
	s.question = &q
	s.answer = AnswerState{}
	if q.SolutionType == SolutionTypeCode || q.SolutionType == SolutionTypeCodeRepo {
		s.answer.Code = s.placeholder
	}
	return q
}

func (s *SessionState) Question() (Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.question == nil {
		return Question{}, false
	}
	return *s.question, true
}

func (s *SessionState) SetPlaceholder(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeholder = p
}

func (s *SessionState) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer.Text = text
}

func (s *SessionState) SetCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer.Code = code
}

func (s *SessionState) SetImage(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer.ImageRef = ref
}

func (s *SessionState) SetAudio(transcript string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer.Audio = transcript
}

func (s *SessionState) Snapshot() AnswerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answer
}

// Clear forgets the question and the answer.
func (s *SessionState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = nil
	s.answer = AnswerState{}
}
