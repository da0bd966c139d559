// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sparklet implements the data model for a lightweight
// data-parallel execution engine: partitioned datasets, per-task
// contexts, and the func registry that names computations across
// process boundaries. Job execution lives in package
// github.com/grailbio/sparklet/exec; the materialized-result store
// and its coherence protocol live in
// github.com/grailbio/sparklet/cache.
//
// A computation is a registered task func applied to every partition
// of a dataset:
//
//	var sum = sparklet.Func(func(ctx context.Context, tc *sparklet.TaskContext, in seqio.Reader) (interface{}, error) {
//		total := 0
//		for {
//			v, err := in.Read(ctx)
//			if err == seqio.EOF {
//				return total, nil
//			}
//			if err != nil {
//				return nil, err
//			}
//			total += v.(int)
//		}
//	})
//
//	func main() {
//		sess := exec.Start(exec.Goroutine(4))
//		defer sess.Shutdown()
//		nums := sess.Parallelize([]interface{}{1, 2, 3, 4, 5}, 2)
//		sums, err := sess.Collect(context.Background(), nums, sum)
//		...
//	}
//
// Funcs must be registered in deterministic order (package
// initialization order suffices) so that a func's registry index
// names the same computation in the driver and in every worker
// process.
package sparklet
