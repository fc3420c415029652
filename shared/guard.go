package shared

import (
	"fmt"
	"sync"
)

// Guard releases a scoped resource exactly once, whichever exit path gets
// there first. A panicking release still counts as released.
type Guard struct {
	once    sync.Once
	release func() error
	err     error
}

func NewGuard(release func() error) *Guard {
	return &Guard{release: release}
}

func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				g.err = fmt.Errorf("releasing resource: %v", r)
			}
		}()
		if g.release != nil {
			g.err = g.release()
		}
	})
	return g.err
}
