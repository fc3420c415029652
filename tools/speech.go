package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bt-bridge/interview-room/shared"
)

// PacedSynthesizer "speaks" in the terminal: it reveals the caption one word
// at a time at a fixed words-per-minute rate.
type PacedSynthesizer struct {
	printer *shared.Printer
	perWord time.Duration
	indent  int
}

var _ Synthesizer = (*PacedSynthesizer)(nil)

// NewPacedSynthesizer builds a synthesizer; printer may be nil to only
// produce timing.
func NewPacedSynthesizer(printer *shared.Printer, wordsPerMinute, indent int) (*PacedSynthesizer, error) {
	if wordsPerMinute <= 0 {
		return nil, errors.New("words per minute must be positive")
	}
	return &PacedSynthesizer{
		printer: printer,
		perWord: time.Minute / time.Duration(wordsPerMinute),
		indent:  indent,
	}, nil
}

func (p *PacedSynthesizer) Speak(ctx context.Context, text string, onStart func(), onBoundary func()) error {
	words := strings.Fields(text)
	onStart()
	if len(words) == 0 {
		return nil
	}
	t := time.NewTicker(p.perWord)
	defer t.Stop()
	for i := range words {
		select {
		case <-ctx.Done():
			p.endLine()
			return ctx.Err()
		case <-t.C:
		}
		onBoundary()
		if p.printer != nil {
			if err := p.printer.Rewrite(strings.Join(words[:i+1], " "), p.indent); err != nil {
				return fmt.Errorf("printing caption: %w", err)
			}
		}
	}
	p.endLine()
	return nil
}

func (p *PacedSynthesizer) endLine() {
	if p.printer != nil {
		_ = p.printer.Write("\n", 0)
	}
}
