// Package saga implements an orchestrated saga driven by outcome events.
// A saga is a sequence of steps, each with a forward command and a
// compensation. The engine never waits on a step: it issues the command,
// returns, and advances only when the matching outcome event arrives.
// When a step reports failure, the compensations of all completed steps
// run in reverse order and the saga aborts.
//
// Saga state lives in memory only. If the process dies mid-saga the
// outcome events find no saga to advance and are dropped; the caller's
// timeout is the recovery path.
package saga

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
)

// Action issues a command or terminal event. The event argument is the
// event that triggered the action: the initial trigger for the first
// command, the preceding step's outcome for later ones.
type Action func(ctx context.Context, ev *event.Event) error

// Step is one forward/compensation pair of a saga definition.
type Step struct {
	Name         string
	Command      Action
	Compensation Action
	SuccessEvent string
	ErrorEvent   string
}

// Saga is one running instance, keyed by correlation id.
type Saga struct {
	mu            sync.Mutex
	correlationID string
	steps         []Step
	current       int // index of the step awaiting its outcome
	commit        Action
	abort         Action
	done          bool
}

// Manager tracks running sagas and routes outcome events to them.
type Manager struct {
	mu    sync.RWMutex
	sagas map[string]*Saga
}

// NewManager creates an empty saga manager.
func NewManager() *Manager {
	return &Manager{sagas: make(map[string]*Saga)}
}

// Build registers a new saga for the given correlation id. Commit runs
// after the last step succeeds; abort runs after compensation. A saga with
// no steps commits immediately on Start.
func (m *Manager) Build(correlationID string, steps []Step, commit, abort Action) (*Saga, error) {
	s := &Saga{
		correlationID: correlationID,
		steps:         steps,
		commit:        commit,
		abort:         abort,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sagas[correlationID]; exists {
		return nil, fmt.Errorf("saga %s already running", correlationID)
	}
	m.sagas[correlationID] = s
	return s, nil
}

// Start issues the first command. A command failure at this point aborts
// without compensation, since nothing has completed yet.
func (m *Manager) Start(ctx context.Context, correlationID string, trigger *event.Event) error {
	m.mu.RLock()
	s, ok := m.sagas[correlationID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("saga %s not found", correlationID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.steps) == 0 {
		return s.finish(ctx, m, trigger, true)
	}
	if err := s.steps[0].Command(ctx, trigger); err != nil {
		logger.Get().Error("saga first command failed",
			zap.String("correlation_id", s.correlationID),
			zap.String("step", s.steps[0].Name),
			zap.Error(err))
		return s.compensateAndAbort(ctx, m, trigger)
	}
	return nil
}

// HandleEvent routes an outcome event to its saga. Events for unknown
// correlation ids are logged and dropped; they belong to sagas that
// already finished, or to an orchestrator that restarted.
func (m *Manager) HandleEvent(ctx context.Context, ev *event.Event) error {
	m.mu.RLock()
	s, ok := m.sagas[ev.CorrelationID]
	m.mu.RUnlock()
	if !ok {
		logger.Get().Warn("event for unknown saga, dropping",
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("event_type", ev.Type))
		return nil
	}
	return s.handle(ctx, m, ev)
}

// Running reports the number of live sagas.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sagas)
}

func (m *Manager) remove(correlationID string) {
	m.mu.Lock()
	delete(m.sagas, correlationID)
	m.mu.Unlock()
}

func (s *Saga) handle(ctx context.Context, m *Manager, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}

	log := logger.Get()
	cur := s.steps[s.current]

	switch {
	case ev.Type == cur.SuccessEvent:
		s.current++
		if s.current == len(s.steps) {
			return s.finish(ctx, m, ev, true)
		}
		next := s.steps[s.current]
		if err := next.Command(ctx, ev); err != nil {
			log.Error("saga command failed",
				zap.String("correlation_id", s.correlationID),
				zap.String("step", next.Name),
				zap.Error(err))
			return s.compensateAndAbort(ctx, m, ev)
		}
		return nil

	case s.isErrorEvent(ev.Type):
		log.Info("saga step failed, compensating",
			zap.String("correlation_id", s.correlationID),
			zap.String("event_type", ev.Type))
		return s.compensateAndAbort(ctx, m, ev)

	case s.isSuccessEvent(ev.Type):
		// A success event for a step that is not the current one means
		// the protocol was violated somewhere; safest is to unwind.
		log.Warn("out-of-order success event, aborting saga",
			zap.String("correlation_id", s.correlationID),
			zap.String("event_type", ev.Type),
			zap.String("expected", cur.SuccessEvent))
		return s.compensateAndAbort(ctx, m, ev)

	default:
		log.Debug("ignoring unrelated event",
			zap.String("correlation_id", s.correlationID),
			zap.String("event_type", ev.Type))
		return nil
	}
}

func (s *Saga) isErrorEvent(t string) bool {
	for _, st := range s.steps {
		if st.ErrorEvent == t {
			return true
		}
	}
	return false
}

func (s *Saga) isSuccessEvent(t string) bool {
	for _, st := range s.steps {
		if st.SuccessEvent == t {
			return true
		}
	}
	return false
}

// compensateAndAbort runs the compensations of all completed steps in
// reverse order, then the abort action. Compensation failures are logged
// and the sweep continues; a stuck compensation must not block the rest of
// the unwind. Called with s.mu held.
func (s *Saga) compensateAndAbort(ctx context.Context, m *Manager, ev *event.Event) error {
	log := logger.Get()
	for i := s.current - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensation == nil {
			continue
		}
		if err := step.Compensation(ctx, ev); err != nil {
			log.Error("saga compensation failed",
				zap.String("correlation_id", s.correlationID),
				zap.String("step", step.Name),
				zap.Error(err))
		}
	}
	return s.finish(ctx, m, ev, false)
}

// finish runs the terminal action and removes the saga. Called with s.mu
// held.
func (s *Saga) finish(ctx context.Context, m *Manager, ev *event.Event, committed bool) error {
	s.done = true
	m.remove(s.correlationID)

	action := s.abort
	outcome := "aborted"
	if committed {
		action = s.commit
		outcome = "committed"
	}

	var err error
	if action != nil {
		err = action(ctx, ev)
	}
	logger.Get().Info("saga finished",
		zap.String("correlation_id", s.correlationID),
		zap.String("outcome", outcome))
	return err
}
