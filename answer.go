package interviewroom

import (
	"context"
	"fmt"
	"strings"

	"github.com/bt-bridge/interview-room/shared"
	"go.uber.org/zap"
)

type SolutionSender interface {
	SendCompleteSolution(ctx context.Context, payload *SolutionPayload, command Command) error
}

// WhiteboardExporter renders the current whiteboard as an image.
type WhiteboardExporter interface {
	Export(ctx context.Context) (data []byte, filename string, err error)
}

// ImageUploader stores an image and returns its public URL.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte, filename string) (url string, err error)
}

var _ SolutionSender = (*Client)(nil)

// Aggregator turns an answer snapshot into a solution message.
type Aggregator struct {
	logger   shared.LoggerAdapter
	sender   SolutionSender
	exporter WhiteboardExporter
	uploader ImageUploader
	notify   func(msg string)
}

// NewAggregator builds an aggregator. exporter and uploader may be nil when
// no whiteboard questions are expected; notify may be nil.
func NewAggregator(logger shared.LoggerAdapter, sender SolutionSender, exporter WhiteboardExporter, uploader ImageUploader, notify func(string)) (*Aggregator, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sender == nil {
		return nil, shared.ErrNoSender
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Aggregator{
		logger:   logger.With(zap.String("component", "aggregator")),
		sender:   sender,
		exporter: exporter,
		uploader: uploader,
		notify:   notify,
	}, nil
}

// Submit sends snap as the answer to q. Whiteboard answers are exported and
// uploaded first; if either step fails nothing is sent.
func (a *Aggregator) Submit(ctx context.Context, q Question, snap AnswerState, command Command) error {
	if command != CommandCompleteSolution && command != CommandPartialSolution {
		return fmt.Errorf("%w: %s is not a solution command", shared.ErrInvalidCommand, command)
	}
	payload := &SolutionPayload{
		TextResponse:  snap.Text,
		CodeResponse:  snap.Code,
		ImageResponse: snap.ImageRef,
		AudioResponse: snap.Audio,
	}

	switch q.SolutionType {
	case SolutionTypeWhiteboard:
		url, err := a.whiteboardURL(ctx)
		if err != nil {
			a.logger.Error("preparing whiteboard answer", err, zap.String("question", q.Name))
			a.notify(shared.UserMessage(err))
			return err
		}
		payload.ImageResponse = url
	case SolutionTypeCode, SolutionTypeCodeRepo:
		payload.CodeResponse = StripPlaceholder(snap.Code, q.Placeholder)
	}

	if err := a.sender.SendCompleteSolution(ctx, payload, command); err != nil {
		a.notify(shared.UserMessage(err))
		return fmt.Errorf("sending solution: %w", err)
	}
	a.logger.Info("solution submitted",
		zap.String("command", string(command)),
		zap.String("solution_type", string(q.SolutionType)),
	)
	return nil
}

func (a *Aggregator) whiteboardURL(ctx context.Context) (string, error) {
	if a.exporter == nil {
		return "", fmt.Errorf("%w: no whiteboard exporter", shared.ErrImageExport)
	}
	if a.uploader == nil {
		return "", fmt.Errorf("%w: no image uploader", shared.ErrImageUpload)
	}
	data, filename, err := a.exporter.Export(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrImageExport, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", shared.ErrImageExport)
	}
	url, err := a.uploader.Upload(ctx, data, filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrImageUpload, err)
	}
	if url == "" {
		return "", fmt.Errorf("%w: no url returned", shared.ErrImageUpload)
	}
	return url, nil
}

// StripPlaceholder removes every line of code whose trimmed text equals a
// non-empty trimmed line of the placeholder, then trims the result.
func StripPlaceholder(code, placeholder string) string {
	drop := make(map[string]struct{})
	for _, l := range strings.Split(placeholder, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			drop[l] = struct{}{}
		}
	}
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if _, ok := drop[strings.TrimSpace(l)]; !ok {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
