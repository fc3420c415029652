package tools

import (
	"context"
	"sync"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Synthesizer speaks text. onStart is called once output begins and
// onBoundary at every word boundary. Speak returns ctx.Err() when cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string, onStart func(), onBoundary func()) error
}

type Slot int

const (
	SlotQuestion Slot = iota
	SlotInterruption
	slotCount
)

func (s Slot) String() string {
	switch s {
	case SlotQuestion:
		return "question"
	case SlotInterruption:
		return "interruption"
	}
	return "unknown"
}

type CaptionState struct {
	Text      string
	Speaking  bool
	WordIndex int
	// RepeatID tells apart two utterances of the same text.
	RepeatID string
}

type CaptionEventKind int

const (
	CaptionStarted CaptionEventKind = iota
	CaptionWord
	CaptionEnded
	CaptionError
)

type CaptionEvent struct {
	Slot  Slot
	Kind  CaptionEventKind
	State CaptionState
	Err   error
}

type utterance struct {
	id     uint64
	slot   Slot
	cancel context.CancelFunc
}

// Synchronizer keeps captions in step with speech. Only one utterance plays
// at a time; a new Speak silently cancels the previous one.
type Synchronizer struct {
	logger shared.LoggerAdapter
	synth  Synthesizer

	mu      sync.Mutex
	states  [slotCount]CaptionState
	seq     uint64
	active  *utterance
	nextSub int
	subs    map[int]func(CaptionEvent)
}

func NewSynchronizer(logger shared.LoggerAdapter, synth Synthesizer) (*Synchronizer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if synth == nil {
		return nil, shared.ErrNoSynthesizer
	}
	s := &Synchronizer{
		logger: logger.With(zap.String("component", "captions")),
		synth:  synth,
		subs:   make(map[int]func(CaptionEvent)),
	}
	for i := range s.states {
		s.states[i].WordIndex = -1
	}
	return s, nil
}

func (s *Synchronizer) OnEvent(fn func(CaptionEvent)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Synchronizer) State(slot Slot) CaptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[slot]
}

// Speak starts narrating text in slot and returns a channel closed when the
// utterance finishes, fails or is cancelled.
func (s *Synchronizer) Speak(slot Slot, text string) <-chan struct{} {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.active
	if prev != nil {
		s.quiet(prev.slot)
	}
	s.seq++
	u := &utterance{id: s.seq, slot: slot, cancel: cancel}
	s.active = u
	s.states[slot] = CaptionState{Text: text, WordIndex: -1, RepeatID: uuid.NewString()}
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go s.run(ctx, u, text, done)
	return done
}

// Cancel stops the current utterance without an event.
func (s *Synchronizer) Cancel() {
	s.mu.Lock()
	u := s.active
	s.active = nil
	if u != nil {
		s.quiet(u.slot)
	}
	s.mu.Unlock()
	if u != nil {
		u.cancel()
	}
}

// quiet requires s.mu.
func (s *Synchronizer) quiet(slot Slot) {
	s.states[slot].Speaking = false
	s.states[slot].WordIndex = -1
}

func (s *Synchronizer) run(ctx context.Context, u *utterance, text string, done chan struct{}) {
	defer close(done)
	defer u.cancel()
	err := s.synth.Speak(ctx, text,
		func() {
			s.update(u, CaptionStarted, func(st *CaptionState) {
				st.Speaking = true
				st.WordIndex = -1
			})
		},
		func() {
			s.update(u, CaptionWord, func(st *CaptionState) {
				st.WordIndex++
			})
		},
	)
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.active != u {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.quiet(u.slot)
	ev := CaptionEvent{Slot: u.slot, Kind: CaptionEnded, State: s.states[u.slot]}
	if err != nil {
		ev.Kind = CaptionError
		ev.Err = err
	}
	subs := s.subscribers()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("speech synthesis failed", err, zap.Stringer("slot", u.slot))
	}
	for _, fn := range subs {
		fn(ev)
	}
}

func (s *Synchronizer) update(u *utterance, kind CaptionEventKind, mutate func(*CaptionState)) {
	s.mu.Lock()
	if s.active != u {
		s.mu.Unlock()
		return
	}
	mutate(&s.states[u.slot])
	ev := CaptionEvent{Slot: u.slot, Kind: kind, State: s.states[u.slot]}
	subs := s.subscribers()
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// subscribers requires s.mu.
func (s *Synchronizer) subscribers() []func(CaptionEvent) {
	subs := make([]func(CaptionEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}
