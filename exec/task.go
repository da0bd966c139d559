// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/sparklet"
	"github.com/grailbio/sparklet/cache"
	"github.com/grailbio/sparklet/stats"
)

// A taskBundle carries everything a worker needs to run one
// partition's computation: the job payload (func and dataset, encoded
// once per job and shared across all of the job's bundles), the
// partition, and the fragment of the driver's cache relevant to the
// partition, if any. Fields are encoded with the session's codecs;
// the bundle itself is gob-encoded and checksummed for transport.
type taskBundle struct {
	// Job is the encoded jobPayload.
	Job []byte
	// Data is the encoded *sparklet.Partition.
	Data []byte
	// Cache is the encoded *cache.Manager fragment, or nil when the
	// driver holds no entries for the partition.
	Cache []byte
}

// A jobPayload pairs a registered func with the dataset it applies
// to. It is encoded with the session's func codec.
type jobPayload struct {
	Func    uint64
	Dataset sparklet.Dataset
}

// A taskOutput is what a worker reports back for one task: the
// partition's result, the delta of cache entries the task added, and
// the worker-side timing breakdown. It is encoded with the session's
// data codec.
type taskOutput struct {
	Result  interface{}
	Cache   *cache.Manager
	Timings stats.Values
}

// A Worker runs task bundles inside one worker context. A Worker owns
// a cache manager that persists across the tasks dispatched to it, so
// repeated tasks on one worker benefit from entries cached there. The
// manager is created lazily on the worker's first task; fragments
// received later are joined in, and entries the worker computed
// itself are never discarded.
//
// Workers run tasks sequentially: Run locks the worker for the
// duration of a task.
type Worker struct {
	funcCodec Codec
	dataCodec Codec

	mu    sync.Mutex
	cache *cache.Manager
}

// NewWorker returns a Worker using the provided codecs, which must
// match the codecs of the session whose bundles it runs.
func NewWorker(funcCodec, dataCodec Codec) *Worker {
	return &Worker{funcCodec: funcCodec, dataCodec: dataCodec}
}

// Run executes one task bundle and returns the encoded, sealed task
// output. Any error, including a panic in the user computation, fails
// the task; the engine propagates task failure to the job's caller
// without retrying.
func (w *Worker) Run(ctx context.Context, sealed []byte) (out []byte, err error) {
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while computing partition: %v\n%s", e, stack)
		}
		if err != nil {
			log.Error.Printf("task error: %v", err)
		}
	}()
	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := open(sealed)
	if err != nil {
		return nil, err
	}
	var bundle taskBundle
	if err := Gob.Decode(p, &bundle); err != nil {
		return nil, err
	}

	timings := stats.NewMap()

	// Reconcile the received cache fragment with the worker's own
	// manager. The first fragment a worker sees is adopted directly;
	// later fragments are joined, first writer winning, so the
	// worker's cache is a superset across tasks of every fragment it
	// has received.
	stop := timings.Timer("task_cache_init")
	if bundle.Cache != nil {
		frag := new(cache.Manager)
		if err := w.dataCodec.Decode(bundle.Cache, frag); err != nil {
			return nil, err
		}
		if w.cache == nil {
			w.cache = frag
		} else {
			w.cache.Join(frag)
		}
	} else if w.cache == nil {
		w.cache = cache.New()
	}
	baseline := w.cache.Idents()
	stop()

	stop = timings.Timer("task_decode_func")
	var payload jobPayload
	if err := w.funcCodec.Decode(bundle.Job, &payload); err != nil {
		return nil, err
	}
	fn, err := sparklet.FuncByIndex(payload.Func)
	if err != nil {
		return nil, err
	}
	stop()

	stop = timings.Timer("task_decode_data")
	part := new(sparklet.Partition)
	if err := w.dataCodec.Decode(bundle.Data, part); err != nil {
		return nil, err
	}
	stop()

	stop = timings.Timer("task_exec")
	tc := &sparklet.TaskContext{PartitionID: part.Index, Cache: w.cache}
	result, err := fn.Invoke(ctx, tc, payload.Dataset.Compute(tc, part))
	if err != nil {
		return nil, err
	}
	stop()

	values := make(stats.Values)
	timings.AddAll(values)
	encoded, err := w.dataCodec.Encode(taskOutput{
		Result:  result,
		Cache:   w.cache.Diff(baseline),
		Timings: values,
	})
	if err != nil {
		return nil, err
	}
	return seal(encoded), nil
}
