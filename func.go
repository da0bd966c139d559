// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/grailbio/sparklet/seqio"
)

var (
	// Funcs is the global registry of funcs. We rely on deterministic
	// registration order. (This is guaranteed by Go's variable
	// initialization for a single compiler, which is sufficient for our
	// use.) It would definitely be nice to have a nicer way of doing
	// this (without the overhead of users minting their own names).
	funcs []*FuncValue
	// funcsBusy is used to detect data races in registration.
	funcsBusy int32
)

// A TaskFunc is the computation applied to one partition: it consumes
// the partition's lazy element sequence and produces the partition's
// result. It is invoked once per task with a fresh TaskContext.
type TaskFunc func(ctx context.Context, tc *TaskContext, in seqio.Reader) (interface{}, error)

// A FuncValue represents a registered task func, as returned by Func.
// Since funcs cannot themselves travel across process boundaries,
// a FuncValue is named remotely by its registry index.
type FuncValue struct {
	fn    TaskFunc
	index uint64
}

// Index returns the func's registry index.
func (f *FuncValue) Index() uint64 { return f.index }

// Invoke applies the func to the provided context and input sequence.
func (f *FuncValue) Invoke(ctx context.Context, tc *TaskContext, in seqio.Reader) (interface{}, error) {
	return f.fn(ctx, tc, in)
}

// Func registers the provided task func, returning a FuncValue that
// names it across process boundaries. Funcs must be registered in
// deterministic order in every process that may run them; registering
// them as part of package initialization is both safe and encouraged.
func Func(fn TaskFunc) *FuncValue {
	if fn == nil {
		panic("sparklet.Func: nil func")
	}
	v := &FuncValue{fn: fn}
	if atomic.AddInt32(&funcsBusy, 1) != 1 {
		panic("sparklet.Func: data race")
	}
	v.index = uint64(len(funcs))
	funcs = append(funcs, v)
	if atomic.AddInt32(&funcsBusy, -1) != 0 {
		panic("sparklet.Func: data race")
	}
	return v
}

// FuncByIndex returns the func registered under the provided index.
// An unknown index is an error: it indicates that the caller's
// registry diverged from the driver's.
func FuncByIndex(index uint64) (*FuncValue, error) {
	if index >= uint64(len(funcs)) {
		return nil, fmt.Errorf("sparklet: no func registered under index %d", index)
	}
	return funcs[index], nil
}
