// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparklet

import (
	"context"
	"testing"

	"github.com/grailbio/sparklet/seqio"
)

var (
	testIdentity = Func(func(ctx context.Context, tc *TaskContext, in seqio.Reader) (interface{}, error) {
		return seqio.ReadAll(ctx, in)
	})
	testPartitionID = Func(func(ctx context.Context, tc *TaskContext, in seqio.Reader) (interface{}, error) {
		return tc.PartitionID, nil
	})
)

func TestFuncRegistry(t *testing.T) {
	if testIdentity.Index() == testPartitionID.Index() {
		t.Fatal("duplicate func indices")
	}
	for _, fn := range []*FuncValue{testIdentity, testPartitionID} {
		got, err := FuncByIndex(fn.Index())
		if err != nil {
			t.Fatal(err)
		}
		if got != fn {
			t.Errorf("got %v, want %v", got, fn)
		}
	}
	if _, err := FuncByIndex(1 << 32); err == nil {
		t.Error("expected error for unregistered index")
	}
}

func TestFuncInvoke(t *testing.T) {
	ctx := context.Background()
	tc := &TaskContext{PartitionID: 3}
	v, err := testPartitionID.Invoke(ctx, tc, seqio.EmptyReader{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
