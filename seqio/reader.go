// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package seqio provides the lazy result-sequence abstraction used by
// the sparklet engine. Sequences are finite, single-pass and not
// restartable: the consumer owns driving iteration to completion.
package seqio

import (
	"context"

	"github.com/grailbio/base/errors"
)

// EOF is the error returned by Reader.Read when no more elements are
// available. EOF is intended as a sentinel error: it signals a
// graceful end of output. If output terminates unexpectedly, a
// different error should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of elements. Each call to
// Read returns the next element, or EOF once the stream is exhausted.
// Read should not be called concurrently.
type Reader interface {
	Read(ctx context.Context) (interface{}, error)
}

type sliceReader struct {
	elems []interface{}
}

// SliceReader returns a Reader that reads the provided elements to
// completion.
func SliceReader(elems []interface{}) Reader {
	return &sliceReader{elems}
}

func (s *sliceReader) Read(ctx context.Context) (interface{}, error) {
	if len(s.elems) == 0 {
		return nil, EOF
	}
	v := s.elems[0]
	s.elems = s.elems[1:]
	return v, nil
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of
// the provided input readers. Once every underlying Reader has
// returned EOF, Read will return EOF, too. Non-EOF errors are
// returned immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context) (interface{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	for len(m.q) > 0 {
		v, err := m.q[0].Read(ctx)
		switch {
		case err == EOF:
			m.q = m.q[1:]
		case err != nil:
			m.err = err
			return nil, err
		default:
			return v, nil
		}
	}
	return nil, EOF
}

// An errReader is a reader that only returns errors.
type errReader struct{ Err error }

// ErrReader returns a reader that returns the provided error on every
// call to Read. ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("nil error")
	}
	return errReader{err}
}

func (e errReader) Read(ctx context.Context) (interface{}, error) {
	return nil, e.Err
}

// An EmptyReader returns EOF immediately.
type EmptyReader struct{}

// Read implements seqio.Reader.
func (EmptyReader) Read(ctx context.Context) (interface{}, error) {
	return nil, EOF
}

// ReadAll reads r to completion, returning the elements read in
// order.
func ReadAll(ctx context.Context, r Reader) ([]interface{}, error) {
	var elems []interface{}
	for {
		v, err := r.Read(ctx)
		if err == EOF {
			return elems, nil
		}
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
}
