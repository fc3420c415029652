package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// MediaDevice captures the default microphone and encodes it to opus.
type MediaDevice struct {
	logger     shared.LoggerAdapter
	sampleRate int
	channels   int
}

var _ Device = (*MediaDevice)(nil)

func NewMediaDevice(logger shared.LoggerAdapter, sampleRate, channels int) (*MediaDevice, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid audio format: %d Hz, %d channels", sampleRate, channels)
	}
	return &MediaDevice{
		logger:     logger.With(zap.String("component", "media_device")),
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (d *MediaDevice) Open(ctx context.Context) (AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating opus params: %w", err)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(d.sampleRate)
			c.ChannelCount = prop.Int(d.channels)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("getting microphone stream: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track found in microphone stream")
	}
	reader, err := tracks[0].NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		for _, t := range stream.GetTracks() {
			_ = t.Close()
		}
		return nil, fmt.Errorf("creating encoded reader: %w", err)
	}
	d.logger.Info("microphone opened",
		zap.Int("sample_rate", d.sampleRate),
		zap.Int("channels", d.channels),
	)
	return &mediaSource{
		stream:     stream,
		reader:     reader,
		sampleRate: d.sampleRate,
	}, nil
}

type mediaSource struct {
	stream     mediadevices.MediaStream
	reader     mediadevices.EncodedReadCloser
	sampleRate int

	closeOnce sync.Once
	closeErr  error
}

func (s *mediaSource) ReadFrame() ([]byte, time.Duration, error) {
	buf, release, err := s.reader.Read()
	if err != nil {
		return nil, 0, err
	}
	defer release()
	if buf.Samples == 0 {
		return nil, 0, nil
	}
	frame := append([]byte(nil), buf.Data...)
	return frame, FrameDuration(int(buf.Samples), s.sampleRate), nil
}

// Close stops every track of the stream.
func (s *mediaSource) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing encoded reader: %w", err))
		}
		for _, t := range s.stream.GetTracks() {
			if err := t.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing track %s: %w", t.ID(), err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
