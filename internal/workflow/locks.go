package workflow

import (
	"sync"

	"github.com/medflow/platform/internal/shared/types"
)

// patientLocks hands out one mutex per patient. Entries are reference
// counted and removed once nobody holds or waits for them.
type patientLocks struct {
	mu    sync.Mutex
	locks map[types.ID]*patientLock
}

type patientLock struct {
	sync.Mutex
	refs int
}

func newPatientLocks() *patientLocks {
	return &patientLocks{locks: make(map[types.ID]*patientLock)}
}

// lock blocks until the patient's mutex is held and returns its release func
func (l *patientLocks) lock(id types.ID) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &patientLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()

	return func() {
		pl.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *patientLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
