// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// A Reply is one pool worker's response to a task bundle: the encoded
// task output, or the error that failed the task.
type Reply struct {
	Data []byte
	Err  error
}

// A Pool dispatches task bundles to workers. Pools may run bundles
// sequentially or concurrently, in-process or in isolated worker
// processes; the engine imposes no ordering requirement on execution
// and surfaces replies in the order the pool yields them.
//
// Since closures cannot travel across process boundaries, every pool
// applies the fixed worker task runner (Worker.Run) to each bundle;
// what varies is where and with how much parallelism the runner
// executes, and which persistent worker context (and thus worker
// cache) each bundle lands on.
type Pool interface {
	// Start readies the pool for the provided session. It is called
	// once, by the session, before any bundles are dispatched. The
	// returned shutdown func, if non-nil, releases the pool's
	// resources.
	Start(sess *Session) (shutdown func())

	// Map dispatches one bundle per input and returns a channel
	// yielding exactly one reply per bundle. Replies are yielded as
	// tasks complete; consumers abandoning the channel must cancel
	// ctx to release the pool's senders.
	Map(ctx context.Context, bundles [][]byte) <-chan Reply
}

// A seqPool is the trivial pool: it applies the task runner inline,
// one bundle at a time, in dispatch order, within the driver process.
// A session configured with a seqPool executes jobs on the local
// path unless the distributed path is forced.
type seqPool struct {
	worker *Worker
}

func newSeqPool() *seqPool { return new(seqPool) }

func (p *seqPool) Start(sess *Session) (shutdown func()) {
	p.worker = NewWorker(sess.funcCodec, sess.dataCodec)
	return nil
}

func (p *seqPool) Map(ctx context.Context, bundles [][]byte) <-chan Reply {
	replies := make(chan Reply)
	go func() {
		defer close(replies)
		for _, bundle := range bundles {
			data, err := p.worker.Run(ctx, bundle)
			select {
			case replies <- Reply{Data: data, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return replies
}

// A goroutinePool runs bundles on n concurrent workers within the
// driver process. Each worker slot holds a persistent Worker, so
// worker caches survive across tasks and across jobs dispatched
// through the same pool.
type goroutinePool struct {
	n       int
	workers []*Worker
}

// NewGoroutinePool returns a pool of n concurrent in-process workers.
// NewGoroutinePool panics if n is not positive.
func NewGoroutinePool(n int) Pool {
	if n <= 0 {
		panic("exec.NewGoroutinePool: n <= 0")
	}
	return &goroutinePool{n: n}
}

func (p *goroutinePool) Start(sess *Session) (shutdown func()) {
	p.workers = make([]*Worker, p.n)
	for i := range p.workers {
		p.workers[i] = NewWorker(sess.funcCodec, sess.dataCodec)
	}
	return nil
}

func (p *goroutinePool) Map(ctx context.Context, bundles [][]byte) <-chan Reply {
	var (
		replies = make(chan Reply)
		queue   = make(chan []byte)
		g, gctx = errgroup.WithContext(ctx)
	)
	for _, worker := range p.workers {
		worker := worker
		g.Go(func() error {
			for bundle := range queue {
				data, err := worker.Run(gctx, bundle)
				select {
				case replies <- Reply{Data: data, Err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
	feed:
		for _, bundle := range bundles {
			select {
			case queue <- bundle:
			case <-gctx.Done():
				break feed
			}
		}
		close(queue)
		g.Wait()
		close(replies)
	}()
	return replies
}
