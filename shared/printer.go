package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.WriteCloser
}

func NewWriteCloser(w io.WriteCloser) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return wc.w.Write([]byte(s))
}

func (wc *WriteCloser) Close() error {
	return wc.w.Close()
}

// Printer is the terminal view: indented, multi-hook output shared by the
// agent and the caption synthesizer.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{indStr: indentString, hooks: hooks}, nil
}

func (p *Printer) writeLocked(s string) error {
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) indent(s string, ind int) string {
	prefix := strings.Repeat(p.indStr, ind)
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(p.indent(s, ind))
}

func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(p.indent(s, ind) + "\n")
}

// Rewrite replaces the current terminal line, used for live captions.
func (p *Printer) Rewrite(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked("\r\033[K" + strings.Repeat(p.indStr, ind) + strings.ReplaceAll(s, "\n", " "))
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			errs = append(errs, fmt.Errorf("on closing hook: %w", err))
		}
	}
	return errors.Join(errs...)
}
