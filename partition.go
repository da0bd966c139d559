// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import "github.com/grailbio/base/must"

// A Partition is an indexed unit of input data and the unit of
// parallelism. Indexes are zero-based and contiguous within one
// dataset's partition set. Data holds the partition's raw input for
// source datasets; it is nil for derived partitions, whose contents
// are computed from upstream. Partitions are immutable once created.
type Partition struct {
	Index int
	Data  []interface{}
}

// Split splits the collection into n non-overlapping partitions,
// contiguous in source order, together covering every element exactly
// once. Partition i receives the half-open slice
// [i*len/n, (i+1)*len/n); the last partition's upper bound absorbs
// any rounding remainder. If n < 1, a single partition holds the
// whole collection.
func Split(collection []interface{}, n int) []*Partition {
	if n < 1 {
		return []*Partition{{Index: 0, Data: collection}}
	}
	var (
		l     = len(collection)
		parts = make([]*Partition, n)
	)
	for i := 0; i < n; i++ {
		start, end := i*l/n, (i+1)*l/n
		if i == n-1 {
			end = l
		}
		must.True(start <= end, "split: invalid bounds")
		parts[i] = &Partition{Index: i, Data: collection[start:end]}
	}
	return parts
}
