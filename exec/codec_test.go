// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
)

func TestGobCodec(t *testing.T) {
	in := map[string][]int{"a": {1, 2, 3}, "b": nil}
	p, err := Gob.Encode(in)
	assert.NoError(t, err)
	var out map[string][]int
	assert.NoError(t, Gob.Decode(p, &out))
	assert.EQ(t, out["a"], in["a"])
}

func TestGobCodecUnregistered(t *testing.T) {
	type unregistered struct{ X chan int }
	_, err := Gob.Encode(unregistered{})
	assert.NotNil(t, err)
	if e, ok := err.(*errors.Error); !ok || e.Severity != errors.Fatal {
		t.Errorf("got %v, want fatal encoding error", err)
	}
}

func TestSealOpen(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(0, 1024)
	for i := 0; i < 100; i++ {
		var p []byte
		fz.Fuzz(&p)
		got, err := open(seal(p))
		assert.NoError(t, err)
		assert.EQ(t, got, p)
	}
}

func TestOpenCorrupt(t *testing.T) {
	sealed := seal([]byte("hello, world"))
	for i := range sealed {
		corrupt := append([]byte{}, sealed...)
		corrupt[i] ^= 0x01
		_, err := open(corrupt)
		if err == nil || !errors.Is(errors.Integrity, err) {
			t.Errorf("byte %d: got %v, want integrity error", i, err)
		}
	}
	if _, err := open([]byte{1, 2}); err == nil || !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid error", err)
	}
}
