package interviewroom

import (
	"context"
	"errors"
	"sync"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bt-bridge/interview-room/tools"
	"go.uber.org/zap"
)

// Narrator speaks questions and interruptions; *tools.Synchronizer is one.
type Narrator interface {
	Speak(slot tools.Slot, text string) <-chan struct{}
	Cancel()
}

var _ Narrator = (*tools.Synchronizer)(nil)

// Interview ties one room client to the answer store, the aggregator, the
// narrator and the microphone.
type Interview struct {
	logger   shared.LoggerAdapter
	client   *Client
	store    *SessionState
	agg      *Aggregator
	narrator Narrator
	notify   func(string)

	mu         sync.Mutex
	mic        *tools.Microphone
	submitting bool
	unsubs     []func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewInterview wires the interview to client. narrator and notify may be nil.
func NewInterview(logger shared.LoggerAdapter, client *Client, store *SessionState, agg *Aggregator, narrator Narrator, notify func(string)) (*Interview, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if client == nil || store == nil || agg == nil {
		return nil, errors.New("client, store and aggregator are required")
	}
	if notify == nil {
		notify = func(string) {}
	}
	i := &Interview{
		logger:   logger.With(zap.String("room", client.Room()), zap.String("component", "interview")),
		client:   client,
		store:    store,
		agg:      agg,
		narrator: narrator,
		notify:   notify,
		done:     make(chan struct{}),
	}
	i.unsubs = append(i.unsubs,
		client.OnResponse(i.handleResponse),
		client.OnInterruption(i.handleInterruption),
		client.OnError(i.handleError),
	)
	return i, nil
}

// AttachMicrophone routes recording stops to an immediate audio flush.
func (i *Interview) AttachMicrophone(mic *tools.Microphone) {
	unsub := mic.OnRecordingChange(func(recording bool) {
		if recording {
			return
		}
		if err := i.client.FlushAudio(context.Background()); err != nil {
			i.logger.Warn("flushing audio after recording stopped", zap.Error(err))
		}
	})
	i.mu.Lock()
	i.mic = mic
	i.unsubs = append(i.unsubs, unsub)
	i.mu.Unlock()
}

func (i *Interview) Done() <-chan struct{} { return i.done }

func (i *Interview) Store() *SessionState { return i.store }

func (i *Interview) Client() *Client { return i.client }

func (i *Interview) Submitting() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.submitting
}

// Start connects and asks for the first (or next) question.
func (i *Interview) Start(ctx context.Context) error {
	if err := i.client.Connect(ctx); err != nil {
		return err
	}
	return i.client.RequestNextQuestion(ctx)
}

// Submit sends the current answer. Only one submission is accepted until
// the interviewer answers with a new question, an interruption, a partial
// solution request or an error.
func (i *Interview) Submit(ctx context.Context, command Command) error {
	i.mu.Lock()
	if i.submitting {
		i.mu.Unlock()
		return shared.ErrSubmitPending
	}
	q, ok := i.store.Question()
	if !ok {
		i.mu.Unlock()
		return shared.ErrNoQuestion
	}
	i.submitting = true
	i.mu.Unlock()

	if err := i.agg.Submit(ctx, q, i.store.Snapshot(), command); err != nil {
		i.releaseSubmit()
		return err
	}
	return nil
}

func (i *Interview) releaseSubmit() {
	i.mu.Lock()
	i.submitting = false
	i.mu.Unlock()
}

func (i *Interview) ToggleRecording(ctx context.Context) (bool, error) {
	i.mu.Lock()
	mic := i.mic
	i.mu.Unlock()
	if mic == nil {
		return false, shared.ErrNoDevice
	}
	return mic.Toggle(ctx)
}

func (i *Interview) handleResponse(resp *Response) {
	if resp.IsInterviewCompleted {
		i.logger.Info("interview completed")
		go i.Close()
		return
	}
	switch resp.Command {
	case CommandQuestionData:
		if resp.Question == nil {
			return
		}
		q := i.store.SetQuestion(*resp.Question)
		i.releaseSubmit()
		i.logger.Info("new question", zap.String("name", q.Name), zap.String("solution_type", string(q.SolutionType)))
		if i.narrator != nil {
			i.narrator.Speak(tools.SlotQuestion, q.Text)
		}
	case CommandGetPartialSolution:
		i.releaseSubmit()
		if resp.Message != "" {
			i.notify(resp.Message)
		}
	case CommandSolutionSaved:
		if resp.Message != "" {
			i.notify(resp.Message)
		}
	}
}

func (i *Interview) handleInterruption(in *Interruption) {
	i.releaseSubmit()
	if i.narrator != nil && in.Message != "" {
		i.narrator.Speak(tools.SlotInterruption, in.Message)
	}
}

func (i *Interview) handleError(err error) {
	i.releaseSubmit()
	i.notify(shared.UserMessage(err))
}

// Close stops recording and narration and cleans up the room client.
func (i *Interview) Close() {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		mic := i.mic
		unsubs := i.unsubs
		i.unsubs = nil
		i.mu.Unlock()

		if mic != nil {
			if err := mic.StopRecording(); err != nil {
				i.logger.Error("stopping microphone", err)
			}
		}
		if i.narrator != nil {
			i.narrator.Cancel()
		}
		for _, u := range unsubs {
			u()
		}
		i.client.Cleanup()
		close(i.done)
	})
}
