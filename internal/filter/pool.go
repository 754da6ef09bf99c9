package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/registry"
)

// Pool runs pre stage filters on frames pushed with registry.PushWait.
// Each worker claims the lowest queued frame of its kind, filters it and
// pushes it ready.
type Pool struct {
	mu sync.Mutex

	reg    *registry.Registry
	chain  *Chain
	logger *slog.Logger
	counts map[frame.Kind]int

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	started bool
}

// NewPool creates a pool with workers[kind] workers per media kind.
func NewPool(reg *registry.Registry, chain *Chain, workers map[frame.Kind]int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		reg:    reg,
		chain:  chain,
		logger: logger,
		counts: workers,
	}
}

// Workers returns the number of workers for kind.
func (p *Pool) Workers(kind frame.Kind) int {
	if p == nil {
		return 0
	}
	return p.counts[kind]
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("frame worker pool already started")
	}
	p.started = true

	for _, kind := range frame.Kinds {
		for i := 0; i < p.counts[kind]; i++ {
			workerID := fmt.Sprintf("%s-%d", kind, i)
			p.wg.Add(1)
			go p.worker(kind, workerID)
		}
	}

	p.logger.Info("frame workers started",
		slog.Int("video", p.counts[frame.Video]),
		slog.Int("audio", p.counts[frame.Audio]))
	return nil
}

// Wait blocks until every worker has exited and returns the first filter
// error, if any.
func (p *Pool) Wait() error {
	p.wg.Wait()
	return p.err
}

func (p *Pool) worker(kind frame.Kind, workerID string) {
	defer p.wg.Done()

	p.logger.Debug("frame worker started", slog.String("worker_id", workerID))
	for {
		f, err := p.reg.Claim(kind)
		if err != nil {
			if !errors.Is(err, registry.ErrClosed) && !errors.Is(err, registry.ErrInterrupted) {
				p.fail(err)
			}
			p.logger.Debug("frame worker stopping", slog.String("worker_id", workerID))
			return
		}

		if err := p.chain.Apply(Pre, f); err != nil {
			p.logger.Error("frame filter failed",
				slog.String("worker_id", workerID),
				slog.Int64("frame_id", f.ID),
				slog.Any("error", err))
			f.Set(frame.Skipped)
			p.fail(err)
		}
		p.reg.Push(f, registry.PushReady)
	}
}

func (p *Pool) fail(err error) {
	p.errOnce.Do(func() { p.err = err })
}
