// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import (
	"context"
	"encoding/gob"

	"github.com/grailbio/sparklet/cache"
	"github.com/grailbio/sparklet/seqio"
)

func init() {
	gob.Register(&persistDataset{})
}

// A persistDataset materializes its upstream dataset's partitions in
// the active cache manager. If a partition's value is already cached
// under the persist dataset's identity, computation shortcuts and
// reads the materialized copy; otherwise the upstream computation
// runs and its output is written through to the cache as it is
// consumed.
type persistDataset struct {
	Ident   DatasetID
	Wrapped Dataset
}

// Persist returns a Dataset that caches the computed partitions of d
// under the identity id. The id must be freshly issued by the
// engine's allocator; cached entries are keyed by (id, partition
// index) in whichever cache manager is active for the running task.
func Persist(id DatasetID, d Dataset) Dataset {
	return &persistDataset{Ident: id, Wrapped: d}
}

func (d *persistDataset) ID() DatasetID { return d.Ident }

func (d *persistDataset) Partitions() []*Partition { return d.Wrapped.Partitions() }

func (d *persistDataset) Compute(tc *TaskContext, p *Partition) seqio.Reader {
	key := cache.Ident{Dataset: uint64(d.Ident), Partition: p.Index}
	if v, ok := tc.Cache.Get(key); ok {
		return seqio.SliceReader(v.([]interface{}))
	}
	return &writethroughReader{
		Reader: d.Wrapped.Compute(tc, p),
		cache:  tc.Cache,
		key:    key,
	}
}

// A writethroughReader accumulates the elements it reads and stores
// them in the cache once the stream is exhausted. Nothing is cached
// if the stream fails or is abandoned before EOF.
type writethroughReader struct {
	seqio.Reader
	cache *cache.Manager
	key   cache.Ident
	buf   []interface{}
	done  bool
}

func (r *writethroughReader) Read(ctx context.Context) (interface{}, error) {
	v, err := r.Reader.Read(ctx)
	switch err {
	case nil:
		r.buf = append(r.buf, v)
	case seqio.EOF:
		if !r.done {
			r.cache.Put(r.key, r.buf)
			r.done = true
		}
	}
	return v, err
}
