package usecase

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAdmissionFull indicates the concurrency class is at capacity and the
	// request was shed rather than queued.
	ErrAdmissionFull = errors.New("admission class at capacity")
	// ErrUnknownAdmissionClass indicates the caller asked for a class that was
	// never configured.
	ErrUnknownAdmissionClass = errors.New("unknown admission class")
)

// AdmissionClass names a bounded concurrency pool. The two classes are
// independent: saturating one never blocks the other.
type AdmissionClass string

const (
	// AdmissionClassReAct bounds tool-using chat turns, which hold an
	// inference slot across multiple reasoning steps.
	AdmissionClassReAct AdmissionClass = "react"
	// AdmissionClassAgent bounds multi-agent workflow requests, which fan out
	// into several concurrent model calls each.
	AdmissionClassAgent AdmissionClass = "agent"
)

type admissionState struct {
	mu     sync.Mutex
	active int
	max    int
}

// AdmissionController sheds requests once a concurrency class is at capacity.
// Requests are never queued; the caller converts ErrAdmissionFull into an
// immediate busy response so clients can retry instead of piling up.
type AdmissionController struct {
	classes map[AdmissionClass]*admissionState
	logger  *zap.Logger
}

// AdmissionSlot is the proof of a successful TryEnter. Release returns the
// slot and is safe to call multiple times; only the first call decrements.
type AdmissionSlot struct {
	state *admissionState
	class AdmissionClass
	once  sync.Once
}

// Release frees the slot held by this request.
func (s *AdmissionSlot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.state.mu.Lock()
		if s.state.active > 0 {
			s.state.active--
		}
		s.state.mu.Unlock()
	})
}

// Class reports which pool the slot belongs to.
func (s *AdmissionSlot) Class() AdmissionClass {
	return s.class
}

// NewAdmissionController constructs a controller with one counter per class.
func NewAdmissionController(limits map[AdmissionClass]int, logger *zap.Logger) *AdmissionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	classes := make(map[AdmissionClass]*admissionState, len(limits))
	for class, max := range limits {
		if max <= 0 {
			continue
		}
		classes[class] = &admissionState{max: max}
	}
	return &AdmissionController{classes: classes, logger: logger}
}

// TryEnter claims a slot in the class. It returns ErrAdmissionFull without
// blocking when the class is saturated.
func (c *AdmissionController) TryEnter(class AdmissionClass) (*AdmissionSlot, error) {
	state, ok := c.classes[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdmissionClass, class)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.active >= state.max {
		c.logger.Debug("admission class saturated",
			zap.String("class", string(class)),
			zap.Int("capacity", state.max))
		return nil, ErrAdmissionFull
	}

	state.active++
	return &AdmissionSlot{state: state, class: class}, nil
}

// Active reports how many slots the class currently holds.
func (c *AdmissionController) Active(class AdmissionClass) int {
	state, ok := c.classes[class]
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.active
}

// Capacity reports the configured maximum for the class, zero when unknown.
func (c *AdmissionController) Capacity(class AdmissionClass) int {
	state, ok := c.classes[class]
	if !ok {
		return 0
	}
	return state.max
}
