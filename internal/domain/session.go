package domain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	m "github.com/mouse-blink/hotpatch/internal/model"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

// Session states.
const (
	StateEmpty SessionState = iota
	StateRegistered
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	}

	return fmt.Sprintf("SessionState(%d)", int(s))
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used for activation steps.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type entry struct {
	target Target
	specs  []PatchSpec
}

// Session groups patches over one or more targets and applies them all or
// none. A session can be activated and deactivated any number of times.
type Session struct {
	id     uuid.UUID
	logger *zap.Logger

	mu      sync.Mutex
	state   SessionState
	entries []*entry
	undo    []undoEntry
	err     error
	// rejected is the last registration refused while active. It does not
	// block activation and is cleared by Deactivate.
	rejected error
}

type undoEntry struct {
	target Target
	token  UndoToken
}

// NewSession returns an empty session.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{id: uuid.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(zap.String("session", s.id.String()))

	return s
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the first registration error, if any, or else a registration
// refused because the session was active.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	return s.rejected
}

// AddPatch registers one patch and returns the session for chaining.
// Registration errors are kept and returned by Err and Activate.
func (s *Session) AddPatch(target Target, pattern Pattern, content Content, mode m.Mode, opts ...PatchOption) *Session {
	return s.AddPatches(target, Spec(pattern, content, mode, opts...))
}

// AddPatches registers several patches of one target.
func (s *Session) AddPatches(target Target, specs ...PatchSpec) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.register(target, specs)

	switch {
	case errors.Is(err, ErrSessionActive):
		s.rejected = err
		s.logger.Warn("patch rejected on active session", zap.Error(err))
	case err != nil && s.err == nil:
		s.err = err
	}

	return s
}

func (s *Session) register(target Target, specs []PatchSpec) error {
	if s.state == StateActive {
		return ErrSessionActive
	}

	if target == nil {
		return newPatchError(CodeUnpatchableTarget, "nil target")
	}

	if err := target.check(); err != nil {
		return withTarget(err, target.Name())
	}

	for _, spec := range specs {
		if err := spec.check(); err != nil {
			return withTarget(err, target.Name())
		}
	}

	if len(specs) == 0 {
		return nil
	}

	var e *entry

	for _, existing := range s.entries {
		if existing.target.key() == target.key() {
			e = existing

			break
		}
	}

	if e == nil {
		e = &entry{target: target}
		s.entries = append(s.entries, e)
	}

	e.specs = append(e.specs, specs...)
	s.state = StateRegistered

	return nil
}

// Activate prepares every target (match, validate, splice, compile) and
// only then installs them. A failure while preparing leaves every target
// untouched; a failure while installing reverts the targets installed so
// far.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.err != nil:
		return s.err
	case s.state == StateActive:
		return ErrAlreadyActive
	case s.state == StateEmpty:
		return ErrNoPatches
	}

	installers := make([]installer, len(s.entries))

	for i, e := range s.entries {
		inst, err := e.target.prepare(e.specs, s.logger)
		if err != nil {
			s.logger.Debug("activation aborted", zap.String("target", e.target.Name()), zap.Error(err))

			return withTarget(err, e.target.Name())
		}

		installers[i] = inst
	}

	for i, inst := range installers {
		target := s.entries[i].target

		token, err := inst.install()
		if err != nil {
			errs := []error{fmt.Errorf("install %s: %w", target.Name(), withTarget(err, target.Name()))}
			errs = append(errs, s.revertAll()...)

			return errors.Join(errs...)
		}

		s.undo = append(s.undo, undoEntry{target: target, token: token})
		s.logger.Debug("target installed", zap.String("target", target.Name()))
	}

	s.state = StateActive
	s.logger.Info("session activated", zap.Int("targets", len(s.entries)))

	return nil
}

// Deactivate reverts every installed target in reverse order. It keeps
// going past failures and returns them joined. The patches stay
// registered.
func (s *Session) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return ErrNotActive
	}

	errs := s.revertAll()
	s.state = StateRegistered
	s.rejected = nil
	s.logger.Info("session deactivated", zap.Int("failures", len(errs)))

	return errors.Join(errs...)
}

func (s *Session) revertAll() []error {
	var errs []error

	for i := len(s.undo) - 1; i >= 0; i-- {
		u := s.undo[i]
		if err := u.token.Revert(); err != nil {
			s.logger.Warn("revert failed", zap.String("target", u.target.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("revert %s: %w", u.target.Name(), err))
		}
	}

	s.undo = nil

	return errs
}

// Run activates the session, calls fn and deactivates the session on every
// exit path, panics included. Deactivation errors are joined to fn's.
func (s *Session) Run(fn func() error) (err error) {
	if err := s.Activate(); err != nil {
		return err
	}

	defer func() {
		if derr := s.Deactivate(); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	return fn()
}
