// Package asyncprocessor contains an asynchronous processor.
package asyncprocessor

import (
	"context"

	"github.com/bluenviron/h264framer/pkg/ringbuffer"
)

// Processor runs queued jobs in a dedicated routine, in order to detach
// the routine that produces frames from a slow consumer.
// Jobs pushed while the queue is full are discarded.
type Processor struct {
	// size of the queue. It must be a power of two.
	BufferSize int

	// called when a job fails. Remaining jobs are not run.
	// The context is canceled when Close() is called.
	OnError func(context.Context, error)

	running   bool
	buffer    *ringbuffer.RingBuffer[func() error]
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

// Initialize initializes the processor.
func (p *Processor) Initialize() error {
	var err error
	p.buffer, err = ringbuffer.New[func() error](uint64(p.BufferSize))
	if err != nil {
		return err
	}

	if p.OnError == nil {
		p.OnError = func(context.Context, error) {}
	}

	p.ctx, p.ctxCancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	return nil
}

// Close stops the processor and waits for the running job.
func (p *Processor) Close() {
	p.ctxCancel()
	p.buffer.Close()

	if p.running {
		<-p.done
	}
}

// Start starts the processor.
func (p *Processor) Start() {
	p.running = true
	go p.run()
}

func (p *Processor) run() {
	defer close(p.done)

	err := p.runInner()
	if err != nil {
		p.OnError(p.ctx, err)
	}
}

func (p *Processor) runInner() error {
	for {
		job, ok := p.buffer.Pull()
		if !ok {
			return nil
		}

		if p.ctx.Err() != nil {
			return nil
		}

		err := job()
		if err != nil {
			return err
		}
	}
}

// Push queues a job. It returns false if the queue is full.
func (p *Processor) Push(job func() error) bool {
	return p.buffer.Push(job)
}
