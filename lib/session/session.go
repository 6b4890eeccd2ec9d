// Package session tracks whether the wallet is currently unlocked. An unlocked session holds the decrypted
// signer in memory only; it is discarded on explicit lock, when the auto-lock deadline fires, or on process
// restart. At most one session is unlocked at a time.
package session

import (
	"errors"
	"log"
	"sync"
	"time"
)

// Errors returned
var (
	ErrWalletLocked = errors.New("wallet is locked")
	ErrNoMnemonic   = errors.New("wallet has no recovery phrase")
)

// Session is the in-memory state of an unlocked wallet. It is never persisted.
type Session struct {
	Address  string
	Deadline time.Time
	key      string
	mnemonic string
}

// Manager enforces the lock/unlock state machine. The auto-lock timer is armed once at unlock time and is not
// reset by subsequent activity: a session lasts exactly the configured timeout regardless of use. Re-unlocking
// cancels the pending timer and arms a fresh one.
type Manager struct {
	mu      sync.Mutex
	timeout time.Duration
	cur     *Session
	timer   *time.Timer
	gen     uint64 // incremented on every unlock/lock so a stale timer cannot fire on a newer session
}

// NewManager returns a locked Manager with the given auto-lock timeout.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{timeout: timeout}
}

// Unlock replaces any current session with a fresh one for the given signer and arms the auto-lock timer.
func (m *Manager) Unlock(address, key, mnemonic string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}

	m.gen++
	gen := m.gen

	m.cur = &Session{
		Address:  address,
		Deadline: time.Now().Add(m.timeout),
		key:      key,
		mnemonic: mnemonic,
	}
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })

	return m.cur
}

// expire discards the session the timer was armed for. A lock or re-unlock since arming bumps the generation
// and makes the firing a no-op.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.cur == nil {
		return
	}

	log.Printf("Auto-lock deadline reached, locking wallet %s", m.cur.Address)
	m.cur = nil
	m.timer = nil
}

// Lock discards the current session. Safe to call when already locked.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.gen++
	m.cur = nil
}

// current returns the session if it is still within its deadline. The deadline check backs up the timer: even
// if the callback has not run yet, an expired session is treated as locked.
func (m *Manager) current() *Session {
	if m.cur == nil {
		return nil
	}

	if time.Now().After(m.cur.Deadline) {
		m.cur = nil

		return nil
	}

	return m.cur
}

// IsUnlocked reports whether a session is currently unlocked.
func (m *Manager) IsUnlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current() != nil
}

// Address returns the unlocked address, or the empty string when locked.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.current(); s != nil {
		return s.Address
	}

	return ""
}

// Deadline returns the auto-lock deadline of the current session.
func (m *Manager) Deadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.current(); s != nil {
		return s.Deadline, true
	}

	return time.Time{}, false
}

// Signer returns the decrypted private key of the unlocked session, or ErrWalletLocked.
func (m *Manager) Signer() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current()
	if s == nil {
		return "", ErrWalletLocked
	}

	return s.key, nil
}

// Mnemonic returns the recovery phrase of the unlocked session. ErrNoMnemonic is returned for wallets imported
// from a raw private key.
func (m *Manager) Mnemonic() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current()
	if s == nil {
		return "", ErrWalletLocked
	}

	if s.mnemonic == "" {
		return "", ErrNoMnemonic
	}

	return s.mnemonic, nil
}
