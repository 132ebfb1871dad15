package ring

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// recursiveMutex is a sync.Mutex that permits the goroutine already holding
// it to re-lock without deadlocking, matching spec.md §5's requirement
// that Format re-enter Load's critical section. It does not support
// recursion across goroutines — only the owning goroutine may re-lock or
// unlock, matching spec.md's single-process, cooperative scheduling
// assumption.
type recursiveMutex struct {
	mu        sync.Mutex
	owner     int64 // goroutine id holding mu, 0 if unlocked
	ownerMu   sync.Mutex
	recursion int
}

// Lock acquires the mutex, or increments the recursion count if the
// calling goroutine already holds it.
func (m *recursiveMutex) Lock() {
	gid := goroutineID()

	m.ownerMu.Lock()
	if m.owner == gid {
		m.recursion++
		m.ownerMu.Unlock()
		return
	}
	m.ownerMu.Unlock()

	m.mu.Lock()

	m.ownerMu.Lock()
	m.owner = gid
	m.recursion = 1
	m.ownerMu.Unlock()
}

// TryLock attempts to acquire the mutex without blocking, returning false
// if another goroutine already holds it. It succeeds immediately (and
// increments the recursion count) if the calling goroutine already holds
// it.
func (m *recursiveMutex) TryLock() bool {
	gid := goroutineID()

	m.ownerMu.Lock()
	if m.owner == gid {
		m.recursion++
		m.ownerMu.Unlock()
		return true
	}
	m.ownerMu.Unlock()

	if !m.mu.TryLock() {
		return false
	}

	m.ownerMu.Lock()
	m.owner = gid
	m.recursion = 1
	m.ownerMu.Unlock()
	return true
}

// Unlock decrements the recursion count, releasing the underlying mutex
// once it reaches zero. It panics if called by a goroutine that does not
// hold the lock, the same contract sync.Mutex.Unlock has for an unlocked
// mutex.
func (m *recursiveMutex) Unlock() {
	gid := goroutineID()

	m.ownerMu.Lock()
	if m.owner != gid {
		m.ownerMu.Unlock()
		panic("ring: Unlock of recursiveMutex not held by calling goroutine")
	}
	m.recursion--
	done := m.recursion == 0
	if done {
		m.owner = 0
	}
	m.ownerMu.Unlock()

	if done {
		m.mu.Unlock()
	}
}

// goroutineID extracts the calling goroutine's id by parsing the runtime
// stack trace header. This is the standard approach for a same-goroutine
// recursive mutex in Go, which has no public goroutine-local storage.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		panic("ring: could not parse goroutine id: " + err.Error())
	}
	return id
}
