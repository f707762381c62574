package songpipe

import (
	"context"
	"fmt"

	"github.com/dudk/songpipe/msg"
)

// Run pulls messages and writes them to sink until a Quit is written, the
// pipeline stops or ctx is done. The sink is closed when Run finishes.
// Errors are sent to the returned channel, which is closed on return.
func (p *Pipeline) Run(ctx context.Context, sink Sink) <-chan error {
	errc := make(chan error, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		errc <- ErrClosed
		close(errc)
		return errc
	case p.running:
		errc <- fmt.Errorf("pipeline %s is already running", p.id)
		close(errc)
		return errc
	}
	p.running = true
	go p.run(ctx, sink, errc)
	return errc
}

func (p *Pipeline) run(ctx context.Context, sink Sink, errc chan<- error) {
	defer close(errc)
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			p.starvation.Stop()
		case <-stopped:
		}
	}()

	var errExec execErrors
	for {
		m := p.Pull()
		if m == nil {
			if err := ctx.Err(); err != nil {
				errExec = append(errExec, err)
			}
			break
		}
		if d, ok := m.(*msg.Drain); ok {
			d.ReportDrained()
		}
		k := m.Kind()
		err := sink.Write(m)
		m.Release()
		if err != nil {
			errExec = append(errExec, fmt.Errorf("error writing %v: %w", k, err))
			break
		}
		if k == msg.KindQuit {
			p.log.Debug("quit")
			break
		}
	}

	errFlush := sink.Close()
	if len(errExec) == 0 && errFlush == nil {
		return
	}
	errc <- &ErrorRun{
		ErrExec:  errExec.ret(),
		ErrFlush: errFlush,
	}
}
