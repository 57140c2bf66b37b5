package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/metrics"
)

var ErrPoolStopped = errors.New("inference pool is stopped")

// InferencePool runs blocking model calls (synthesis, batch transcription)
// on a fixed number of goroutines so request handlers never call them
// inline.
type InferencePool struct {
	NumWorkers int
	Timeout    time.Duration

	Logger  *logrus.Logger
	Metrics *metrics.Metrics

	jobs    chan job
	stopped chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

type job struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	done chan error
}

func (p *InferencePool) Start(ctx context.Context) error {
	if p.jobs != nil {
		return errors.New("inference pool already started")
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 1
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	p.jobs = make(chan job)
	p.stopped = make(chan struct{})
	for i := 0; i < p.NumWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i+1)
	}
	return nil
}

// Stop waits for running jobs to finish. Jobs submitted afterwards fail
// with ErrPoolStopped.
func (p *InferencePool) Stop() {
	p.once.Do(func() {
		if p.stopped != nil {
			close(p.stopped)
		}
	})
	p.wg.Wait()
}

func (p *InferencePool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.Logger.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case j := <-p.jobs:
			p.Metrics.QueueDepth(-1)
			j.done <- p.run(log, j)
		}
	}
}

func (p *InferencePool) run(log *logrus.Entry, j job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", j.name, r)
		}
		p.Metrics.ObserveInference(j.name, err, time.Since(start))
		if err != nil {
			log.WithError(err).WithField("op", j.name).Warn("inference job failed")
		}
	}()

	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Do runs fn on a pool worker and waits for it. The job context carries the
// pool timeout on top of ctx.
func (p *InferencePool) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if p.jobs == nil {
		return ErrPoolStopped
	}

	j := job{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}

	p.Metrics.QueueDepth(1)
	select {
	case p.jobs <- j:
	case <-p.stopped:
		p.Metrics.QueueDepth(-1)
		return ErrPoolStopped
	case <-ctx.Done():
		p.Metrics.QueueDepth(-1)
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is Do for functions with a result. A nil pool calls fn inline.
func Run[T any](ctx context.Context, p *InferencePool, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if p == nil {
		return fn(ctx)
	}
	err := p.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		// fn may still be running after a cancelled wait
		var zero T
		return zero, err
	}
	return out, nil
}
