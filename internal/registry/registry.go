// Package registry implements the frame registry shared by the import loops,
// the frame workers and the encode loop.
//
// Each media kind owns an arena of fixed slots. A frame with id n lives in
// slot n % poolSize, so registering id n blocks until id n-poolSize has been
// removed. Retrieval hands frames to the consumer in strictly increasing id
// order. All state is guarded by one mutex and one condition variable.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

var (
	// ErrInterrupted is returned by blocking calls after Interrupt.
	ErrInterrupted = errors.New("frame registry interrupted")

	// ErrNotOwned is returned when removing a frame whose slot is already free.
	ErrNotOwned = errors.New("frame not owned by caller")

	// ErrClosed is returned by Claim once a kind is closed and no frame is waiting.
	ErrClosed = errors.New("frame registry closed")
)

// PushMode selects the state a filled frame is pushed into.
type PushMode int

const (
	// PushReady makes the frame visible to the encode side.
	PushReady PushMode = iota
	// PushWait queues the frame for a frame worker.
	PushWait
)

// Config sizes the registry.
type Config struct {
	// Slots is the number of frame slots per media kind.
	Slots int
	// VideoBytes is the payload capacity of a video slot.
	VideoBytes int
	// AudioBytes is the payload capacity of an audio slot.
	AudioBytes int
}

// Occupancy is a snapshot of one kind's pool.
type Occupancy struct {
	Kind         string `json:"kind"`
	Used         int    `json:"used"`
	Capacity     int    `json:"capacity"`
	Waiting      int    `json:"waiting"`
	Ready        int    `json:"ready"`
	NextRegister int64  `json:"next_register"`
	NextRetrieve int64  `json:"next_retrieve"`
}

type pool struct {
	slots        []*frame.Frame
	used         int
	nextRegister int64
	nextRetrieve int64
	closed       bool
}

// Registry owns the frame slots of every media kind.
type Registry struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pools       map[frame.Kind]*pool
	interrupted bool
}

// New creates a registry with cfg.Slots slots per kind.
func New(cfg Config) (*Registry, error) {
	if cfg.Slots < 1 {
		return nil, fmt.Errorf("registry slots must be at least 1, got %d", cfg.Slots)
	}
	if cfg.VideoBytes < 0 || cfg.AudioBytes < 0 {
		return nil, fmt.Errorf("registry frame sizes must not be negative")
	}

	r := &Registry{pools: make(map[frame.Kind]*pool, len(frame.Kinds))}
	r.cond = sync.NewCond(&r.mu)

	sizes := map[frame.Kind]int{frame.Video: cfg.VideoBytes, frame.Audio: cfg.AudioBytes}
	for _, kind := range frame.Kinds {
		p := &pool{slots: make([]*frame.Frame, cfg.Slots)}
		for i := range p.slots {
			f := frame.New(kind, sizes[kind])
			f.Status = frame.StatusEmpty
			p.slots[i] = f
		}
		r.pools[kind] = p
	}
	return r, nil
}

// Register reserves the slot for the next frame id of kind.
// It blocks while that slot is still in use. The returned frame is in the
// Filling state and owned by the caller until it is pushed.
func (r *Registry) Register(kind frame.Kind) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pools[kind]
	id := p.nextRegister
	idx := p.index(id)
	for !r.interrupted && p.slots[idx].Status != frame.StatusEmpty {
		r.cond.Wait()
	}
	if r.interrupted {
		return nil, ErrInterrupted
	}

	f := p.slots[idx]
	f.Reset(id, idx)
	f.Status = frame.StatusFilling
	p.nextRegister++
	p.used++
	return f, nil
}

// Push hands a filled frame on. PushWait queues it for a frame worker,
// PushReady makes it available to Retrieve.
func (r *Registry) Push(f *frame.Frame, mode PushMode) {
	r.mu.Lock()
	if mode == PushWait {
		f.Status = frame.StatusWaiting
	} else {
		f.Status = frame.StatusReady
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Claim returns the lowest-id frame of kind waiting for a frame worker.
// It returns ErrClosed once the kind is closed and nothing is waiting.
func (r *Registry) Claim(kind frame.Kind) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pools[kind]
	for {
		if r.interrupted {
			return nil, ErrInterrupted
		}
		if f := p.lowest(frame.StatusWaiting); f != nil {
			f.Status = frame.StatusProcessing
			return f, nil
		}
		if p.closed {
			return nil, ErrClosed
		}
		r.cond.Wait()
	}
}

// Retrieve blocks until the frame with the next expected id of kind is
// Ready and hands it to the caller in the Locked state.
func (r *Registry) Retrieve(kind frame.Kind) (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pools[kind]
	for {
		if r.interrupted {
			return nil, ErrInterrupted
		}
		f := p.slots[p.index(p.nextRetrieve)]
		if f.ID == p.nextRetrieve && f.Status == frame.StatusReady {
			f.Status = frame.StatusLocked
			p.nextRetrieve++
			return f, nil
		}
		r.cond.Wait()
	}
}

// Remove returns the frame's slot to the free pool.
func (r *Registry) Remove(f *frame.Frame) error {
	r.mu.Lock()
	p := r.pools[f.Kind]
	slot := p.slots[f.Slot()]
	if slot != f || f.Status == frame.StatusEmpty {
		r.mu.Unlock()
		return fmt.Errorf("remove %s frame %d: %w", f.Kind, f.ID, ErrNotOwned)
	}
	f.Status = frame.StatusEmpty
	p.used--
	r.mu.Unlock()
	r.cond.Broadcast()
	return nil
}

// Flush frees every slot of kind that is queued but not yet owned by a
// consumer or producer, and moves the retrieve cursor to the oldest frame
// still in flight. It returns the number of slots freed.
func (r *Registry) Flush(kind frame.Kind) int {
	r.mu.Lock()
	p := r.pools[kind]
	var freed int
	for _, f := range p.slots {
		if f.Status == frame.StatusReady || f.Status == frame.StatusWaiting {
			f.Status = frame.StatusEmpty
			p.used--
			freed++
		}
	}
	next := p.nextRegister
	for _, f := range p.slots {
		if (f.Status == frame.StatusFilling || f.Status == frame.StatusProcessing) && f.ID < next {
			next = f.ID
		}
	}
	if next > p.nextRetrieve {
		p.nextRetrieve = next
	}
	r.mu.Unlock()
	r.cond.Broadcast()
	return freed
}

// Close marks kind as complete. Frame workers drain what is queued and then
// receive ErrClosed.
func (r *Registry) Close(kind frame.Kind) {
	r.mu.Lock()
	r.pools[kind].closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Interrupt wakes every blocked caller; all blocking calls return
// ErrInterrupted from now on.
func (r *Registry) Interrupt() {
	r.mu.Lock()
	r.interrupted = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Interrupted reports whether Interrupt has been called.
func (r *Registry) Interrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}

// Stats returns the occupancy of kind's pool.
func (r *Registry) Stats(kind frame.Kind) Occupancy {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pools[kind]
	occ := Occupancy{
		Kind:         kind.String(),
		Used:         p.used,
		Capacity:     len(p.slots),
		NextRegister: p.nextRegister,
		NextRetrieve: p.nextRetrieve,
	}
	for _, f := range p.slots {
		switch f.Status {
		case frame.StatusWaiting:
			occ.Waiting++
		case frame.StatusReady:
			occ.Ready++
		}
	}
	return occ
}

func (p *pool) index(id int64) int {
	return int(id % int64(len(p.slots)))
}

func (p *pool) lowest(status frame.Status) *frame.Frame {
	var best *frame.Frame
	for _, f := range p.slots {
		if f.Status == status && (best == nil || f.ID < best.ID) {
			best = f
		}
	}
	return best
}
