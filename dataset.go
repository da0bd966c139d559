// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import (
	"encoding/gob"
	"sync/atomic"

	"github.com/grailbio/sparklet/seqio"
)

func init() {
	gob.Register([]interface{}{})
	gob.Register(&sliceDataset{})
}

// A DatasetID uniquely identifies a dataset. IDs are assigned once,
// at dataset-creation time, and are strictly increasing within the
// allocator that issued them. Together with a partition index, a
// DatasetID forms a cache identity.
type DatasetID uint64

// An IDAllocator issues fresh dataset identities. It is safe for
// concurrent use. The zero value is ready to use; the first identity
// issued is 1.
type IDAllocator struct {
	next uint64
}

// Next returns a fresh, strictly increasing dataset identity.
func (a *IDAllocator) Next() DatasetID {
	return DatasetID(atomic.AddUint64(&a.next, 1))
}

// Dataset is the partitioned computation abstraction consumed by the
// engine. Implementations must be gob-encodable (and registered with
// gob) so that they can travel to pool workers.
//
// Compute returns a lazy sequence of result elements for the given
// partition. It is responsible for consulting and populating
// tc.Cache for any persisted upstream partition it depends on, keyed
// by (dataset identity, partition index).
type Dataset interface {
	ID() DatasetID
	Partitions() []*Partition
	Compute(tc *TaskContext, p *Partition) seqio.Reader
}

// A sliceDataset is a source dataset whose partitions hold their data
// directly.
type sliceDataset struct {
	Ident DatasetID
	Parts []*Partition
}

// NewSliceDataset returns a source Dataset over the provided
// partitions, identified by id.
func NewSliceDataset(id DatasetID, parts []*Partition) Dataset {
	return &sliceDataset{Ident: id, Parts: parts}
}

func (d *sliceDataset) ID() DatasetID { return d.Ident }

func (d *sliceDataset) Partitions() []*Partition { return d.Parts }

func (d *sliceDataset) Compute(tc *TaskContext, p *Partition) seqio.Reader {
	return seqio.SliceReader(p.Data)
}
