package consult

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teleclinic/consultvoice/internal/callsession"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("consult call not found")

// Call groups one consult's metadata with its dedicated lifecycle
// controller. A fresh controller (and with it a fresh transcript log and
// reconciler) is built per call so nothing leaks between consults.
type Call struct {
	ID             string    `json:"call_id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	Controller *callsession.Controller `json:"-"`
}

// clone returns a snapshot safe to read outside the registry lock. The
// controller pointer is shared; everything else is copied.
func (c *Call) clone() *Call {
	cp := *c
	return &cp
}

// ControllerFactory builds the per-call controller wired for the given
// consult identifiers.
type ControllerFactory func(callID, patientID, doctorID string) *callsession.Controller

// Registry tracks live consult calls and force-stops abandoned ones.
type Registry struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	factory           ControllerFactory
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewRegistry(inactivityTimeout time.Duration, factory ControllerFactory) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Registry{
		calls:             make(map[string]*Call),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(patientID, doctorID string) *Call {
	now := time.Now().UTC()
	id := uuid.NewString()
	c := &Call{
		ID:             id,
		PatientID:      patientID,
		DoctorID:       doctorID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		Controller:     r.factory(id, patientID, doctorID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	return c.clone()
}

func (r *Registry) Get(callID string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

func (r *Registry) Touch(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// End stops the call's voice session and marks the consult ended. The
// transcript remains readable until the call is removed.
func (r *Registry) End(ctx context.Context, callID string) (*Call, error) {
	r.mu.Lock()
	c, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	c.Status = StatusEnded
	c.LastActivityAt = time.Now().UTC()
	snap := c.clone()
	r.mu.Unlock()

	if err := snap.Controller.Stop(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

// Remove drops an ended call from the registry.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive(ctx)
			}
		}
	}()
}

func (r *Registry) expireInactive(ctx context.Context) {
	now := time.Now().UTC()
	var expired []*Call

	r.mu.Lock()
	for _, c := range r.calls {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.LastActivityAt = now
		expired = append(expired, c.clone())
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, c := range expired {
		_ = c.Controller.Stop(ctx)
		if hook != nil {
			hook(c)
		}
	}
}
