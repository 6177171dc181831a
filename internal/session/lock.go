package session

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Locks tracks the stacks with an open session in this process. Cross-process
// locking is left to the engine's backend.
type Locks struct {
	mu   sync.Mutex
	held map[string]lockInfo
}

type lockInfo struct {
	pid  int
	time time.Time
}

var processLocks = &Locks{}

// Lock claims name for the caller.
func (l *Locks) Lock(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		l.held = make(map[string]lockInfo)
	}
	if info, ok := l.held[name]; ok {
		return fmt.Errorf("%w: %s (opened at %s by pid %d)", ErrAlreadyOpen, name, info.time.Format(time.RFC3339), info.pid)
	}
	l.held[name] = lockInfo{pid: os.Getpid(), time: time.Now().UTC()}
	return nil
}

// Unlock releases name. Unlocking a name that is not held is a no-op.
func (l *Locks) Unlock(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}

// Held reports whether name is currently locked.
func (l *Locks) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}
