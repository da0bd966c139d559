// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/sparklet"
	"github.com/grailbio/sparklet/cache"
)

// makeBundle assembles a sealed task bundle the way the driver does.
func makeBundle(t *testing.T, fn *sparklet.FuncValue, d sparklet.Dataset, p *sparklet.Partition, frag *cache.Manager) []byte {
	t.Helper()
	payload, err := Gob.Encode(jobPayload{Func: fn.Index(), Dataset: d})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Gob.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	var fragBytes []byte
	if frag != nil {
		fragBytes, err = Gob.Encode(frag)
		if err != nil {
			t.Fatal(err)
		}
	}
	encoded, err := Gob.Encode(taskBundle{Job: payload, Data: data, Cache: fragBytes})
	if err != nil {
		t.Fatal(err)
	}
	return seal(encoded)
}

func runBundle(t *testing.T, w *Worker, bundle []byte) taskOutput {
	t.Helper()
	sealed, err := w.Run(context.Background(), bundle)
	if err != nil {
		t.Fatal(err)
	}
	data, err := open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	var out taskOutput
	if err := Gob.Decode(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestWorkerRun(t *testing.T) {
	w := NewWorker(Gob, Gob)
	ds := sparklet.NewSliceDataset(1, sparklet.Split(ints(1, 2, 3, 4, 5), 1))
	out := runBundle(t, w, makeBundle(t, sumInts, ds, ds.Partitions()[0], nil))
	if got, want := out.Result, 15; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := out.Cache.Len(), 0; got != want {
		t.Errorf("got %v cache entries, want %v", got, want)
	}
	if _, ok := out.Timings["task_exec"]; !ok {
		t.Errorf("missing task_exec timing in %s", out.Timings)
	}
}

// TestWorkerCacheDelta checks that a task reports only the cache
// entries it added itself: entries received in the bundle's fragment
// are part of the baseline, not the delta.
func TestWorkerCacheDelta(t *testing.T) {
	w := NewWorker(Gob, Gob)
	base := sparklet.NewSliceDataset(6, sparklet.Split(ints(1, 2, 3, 4), 2))
	ds := sparklet.Persist(7, base)
	parts := ds.Partitions()

	frag := cache.New()
	frag.Put(cache.Ident{Dataset: 7, Partition: 0}, ints(1, 2))

	out := runBundle(t, w, makeBundle(t, sumInts, ds, parts[1], frag))
	if got, want := out.Result, 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := out.Cache.Len(), 1; got != want {
		t.Fatalf("got %v delta entries, want %v", got, want)
	}
	if !out.Cache.Contains(cache.Ident{Dataset: 7, Partition: 1}) {
		t.Error("delta is missing the computed partition")
	}

	// The worker's cache now holds both partitions; a repeated task
	// adds nothing and reports an empty delta.
	out = runBundle(t, w, makeBundle(t, sumInts, ds, parts[1], nil))
	if got, want := out.Result, 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := out.Cache.Len(), 0; got != want {
		t.Errorf("got %v delta entries on rerun, want %v", got, want)
	}
}

func TestWorkerChecksum(t *testing.T) {
	w := NewWorker(Gob, Gob)
	ds := sparklet.NewSliceDataset(8, sparklet.Split(ints(1, 2, 3), 1))
	bundle := makeBundle(t, sumInts, ds, ds.Partitions()[0], nil)
	bundle[0] ^= 0xff
	_, err := w.Run(context.Background(), bundle)
	if err == nil || !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want integrity error", err)
	}

	if _, err := w.Run(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Error("short message accepted")
	}
}

func TestWorkerPanic(t *testing.T) {
	w := NewWorker(Gob, Gob)
	ds := sparklet.NewSliceDataset(9, sparklet.Split(ints(1), 1))
	_, err := w.Run(context.Background(), makeBundle(t, panicFunc, ds, ds.Partitions()[0], nil))
	if err == nil || !strings.Contains(err.Error(), "panic while computing partition") {
		t.Errorf("got %v, want panic error", err)
	}
	// The worker survives a panicking task.
	out := runBundle(t, w, makeBundle(t, sumInts, ds, ds.Partitions()[0], nil))
	if got, want := out.Result, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWorkerTaskError(t *testing.T) {
	w := NewWorker(Gob, Gob)
	ds := sparklet.NewSliceDataset(10, sparklet.Split(ints(1, 2), 1))
	_, err := w.Run(context.Background(), makeBundle(t, failFunc, ds, ds.Partitions()[0], nil))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("got %v, want task error", err)
	}
}
