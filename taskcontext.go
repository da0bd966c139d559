// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import "github.com/grailbio/sparklet/cache"

// A TaskContext carries per-task metadata through a computation. It
// is constructed fresh for each task invocation and discarded when
// the task completes.
//
// Cache is the cache manager active for the task: the driver's
// manager when the task runs in-process, the worker's manager when it
// runs on a pool worker. Dataset computations consult and populate it
// for persisted upstream partitions. The manager is threaded here
// explicitly so that its lifetime and sharing scope are a parameter
// of the task rather than ambient process state.
type TaskContext struct {
	// StageID is always 0; multi-stage pipelines are a reserved
	// extension point.
	StageID int
	// PartitionID is the index of the partition being computed.
	PartitionID int

	Cache *cache.Manager
}
