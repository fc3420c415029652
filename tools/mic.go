package tools

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"go.uber.org/zap"
)

// Device grants access to a capture source. Open failing means the
// microphone is missing or permission was denied.
type Device interface {
	Open(ctx context.Context) (AudioSource, error)
}

// AudioSource yields encoded frames until closed, then io.EOF.
type AudioSource interface {
	ReadFrame() (frame []byte, duration time.Duration, err error)
	Close() error
}

// stopGrace bounds how long StopRecording waits for the capture loop before
// releasing the source underneath it.
const stopGrace = time.Second

type capture struct {
	source AudioSource
	guard  *shared.Guard
	stop   chan struct{}
	done   chan struct{}
}

// Microphone records from a Device and hands framed chunks of roughly
// chunkInterval to the sink. Each frame in a chunk is prefixed with its
// length as a big-endian uint16.
type Microphone struct {
	logger   shared.LoggerAdapter
	device   Device
	sink     func(AudioChunk)
	interval time.Duration
	onError  func(error)

	opMu sync.Mutex

	mu        sync.Mutex
	recording bool
	cur       *capture
	nextSub   int
	subs      map[int]func(bool)
}

func NewMicrophone(logger shared.LoggerAdapter, device Device, chunkInterval time.Duration, sink func(AudioChunk), onError func(error)) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if device == nil {
		return nil, shared.ErrNoDevice
	}
	if sink == nil {
		return nil, shared.ErrNoSender
	}
	if chunkInterval <= 0 {
		return nil, errors.New("chunk interval must be positive")
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Microphone{
		logger:   logger.With(zap.String("component", "microphone")),
		device:   device,
		sink:     sink,
		interval: chunkInterval,
		onError:  onError,
		subs:     make(map[int]func(bool)),
	}, nil
}

func (m *Microphone) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// OnRecordingChange is called after every successful start or stop.
func (m *Microphone) OnRecordingChange(fn func(recording bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Microphone) setRecording(v bool, cur *capture) {
	m.mu.Lock()
	m.recording = v
	m.cur = cur
	subs := m.subscribers()
	m.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// finish clears c if it is still the active capture. Only the first caller
// for a given capture notifies subscribers.
func (m *Microphone) finish(c *capture) {
	m.mu.Lock()
	if m.cur != c {
		m.mu.Unlock()
		return
	}
	m.recording = false
	m.cur = nil
	subs := m.subscribers()
	m.mu.Unlock()
	for _, fn := range subs {
		fn(false)
	}
}

func (m *Microphone) subscribers() []func(bool) {
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

// StartRecording opens the device and starts capturing. It is a no-op when
// already recording.
func (m *Microphone) StartRecording(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.Recording() {
		return nil
	}
	src, err := m.device.Open(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", shared.ErrMicrophoneUnavailable, err)
		m.logger.Error("opening microphone", err)
		m.onError(err)
		return err
	}
	c := &capture{
		source: src,
		guard:  shared.NewGuard(src.Close),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.setRecording(true, c)
	go m.capture(c)
	m.logger.Info("recording started")
	return nil
}

// StopRecording stops capture, delivers the last partial chunk and releases
// the source. The source is released even when closing it fails; that
// error is returned afterwards. It is a no-op when not recording.
func (m *Microphone) StopRecording() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	c := m.cur
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(stopGrace):
		m.logger.Warn("capture loop did not stop in time, releasing source")
	}
	err := c.guard.Release()
	<-c.done
	m.finish(c)
	if err != nil {
		err = fmt.Errorf("closing audio source: %w", err)
		m.logger.Error("releasing microphone", err)
		return err
	}
	m.logger.Info("recording stopped")
	return nil
}

// Toggle flips the recording state and reports the new one.
func (m *Microphone) Toggle(ctx context.Context) (bool, error) {
	if m.Recording() {
		return false, m.StopRecording()
	}
	if err := m.StartRecording(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Microphone) capture(c *capture) {
	defer close(c.done)
	var (
		buf []byte
		dur time.Duration
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		m.sink(AudioChunk{Data: buf, Duration: dur})
		buf, dur = nil, 0
	}
	for {
		select {
		case <-c.stop:
			flush()
			return
		default:
		}
		frame, d, err := c.source.ReadFrame()
		if err != nil {
			flush()
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case <-c.stop:
				return
			default:
			}
			m.fail(c, err)
			return
		}
		if len(frame) == 0 {
			continue
		}
		if len(frame) > math.MaxUint16 {
			m.logger.Warn("dropping oversized audio frame", zap.Int("bytes", len(frame)))
			continue
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(frame)))
		buf = append(buf, frame...)
		dur += d
		if dur >= m.interval {
			flush()
		}
	}
}

// fail tears down a capture whose device broke mid-recording, so the
// recording state never outlives the source.
func (m *Microphone) fail(c *capture, err error) {
	err = fmt.Errorf("%w: %w", shared.ErrMicrophoneUnavailable, err)
	m.logger.Error("reading audio frame", err)
	if cerr := c.guard.Release(); cerr != nil {
		m.logger.Error("releasing microphone", cerr)
	}
	m.finish(c)
	m.onError(err)
}

// SplitFrames undoes the framing of a captured chunk.
func SplitFrames(chunk []byte) ([][]byte, error) {
	var frames [][]byte
	for len(chunk) > 0 {
		if len(chunk) < 2 {
			return nil, errors.New("truncated frame header")
		}
		n := int(binary.BigEndian.Uint16(chunk))
		chunk = chunk[2:]
		if len(chunk) < n {
			return nil, errors.New("truncated frame")
		}
		frames = append(frames, chunk[:n])
		chunk = chunk[n:]
	}
	return frames, nil
}
