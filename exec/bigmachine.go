// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&machineWorker{})
}

// A machineWorker is the bigmachine service that runs task bundles on
// a machine. The service holds the machine's persistent worker
// context, so cache entries shipped to or computed on a machine
// remain available to later tasks dispatched there.
type machineWorker struct {
	// Exported just satisfies gob's persnickety nature: we need at
	// least one exported field.
	Exported struct{}

	worker *Worker
}

func (m *machineWorker) Init(b *bigmachine.B) error {
	// Machine-side codecs are fixed: bundles from a session with
	// custom codecs cannot be dispatched through a bigmachine pool.
	m.worker = NewWorker(Gob, Gob)
	return nil
}

// Run runs an individual task bundle, replying with the encoded task
// output. The worker serializes tasks, so a machine runs at most one
// task at a time per service.
func (m *machineWorker) Run(ctx context.Context, bundle []byte, reply *[]byte) (err error) {
	*reply, err = m.worker.Run(ctx, bundle)
	return err
}

// Bigmachine configures a session with a pool of n machines allocated
// from the provided bigmachine system. If any params are provided,
// they are applied to each machine.
func Bigmachine(system bigmachine.System, n int, params ...bigmachine.Param) Option {
	return func(s *Session) {
		s.pool = NewMachinePool(system, n, params...)
	}
}

// A machinePool dispatches task bundles to a cluster of bigmachine
// machines, each running a machineWorker service. Bundles are
// assigned to machines round-robin; tasks on distinct machines run
// concurrently. There is no retry: a machine failure fails the tasks
// assigned to it, and thus the job.
type machinePool struct {
	system bigmachine.System
	n      int
	params []bigmachine.Param

	b        *bigmachine.B
	machines []*bigmachine.Machine
	err      error

	next uint32
}

// NewMachinePool returns a pool of n bigmachine machines allocated
// from the provided system. If any params are provided, they are
// applied to each machine.
func NewMachinePool(system bigmachine.System, n int, params ...bigmachine.Param) Pool {
	if n <= 0 {
		panic("exec.NewMachinePool: n <= 0")
	}
	return &machinePool{system: system, n: n, params: params}
}

func (p *machinePool) Start(sess *Session) (shutdown func()) {
	p.b = bigmachine.Start(p.system)
	ctx := context.Background()
	params := append(p.params, bigmachine.Services{
		"Worker": &machineWorker{},
	})
	machines, err := p.b.Start(ctx, p.n, params...)
	if err != nil {
		p.err = err
		return p.b.Shutdown
	}
	log.Printf("waiting for %d machines", len(machines))
	for _, m := range machines {
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			log.Error.Printf("machine %s failed to start: %v", m.Addr, err)
			continue
		}
		log.Printf("machine %v is ready", m.Addr)
		p.machines = append(p.machines, m)
	}
	if len(p.machines) == 0 {
		p.err = errors.E("no machines started")
	}
	return p.b.Shutdown
}

func (p *machinePool) Map(ctx context.Context, bundles [][]byte) <-chan Reply {
	replies := make(chan Reply)
	if p.err != nil {
		go func() {
			defer close(replies)
			for range bundles {
				select {
				case replies <- Reply{Err: p.err}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return replies
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, bundle := range bundles {
		bundle := bundle
		m := p.pick()
		g.Go(func() error {
			var data []byte
			err := m.Call(gctx, "Worker.Run", bundle, &data)
			select {
			case replies <- Reply{Data: data, Err: err}:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(replies)
	}()
	return replies
}

func (p *machinePool) pick() *bigmachine.Machine {
	n := atomic.AddUint32(&p.next, 1)
	return p.machines[int(n-1)%len(p.machines)]
}
