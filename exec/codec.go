// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
)

// A Codec encodes and decodes values that travel across the process
// boundary between the driver and its workers: job payloads,
// partitions, cache fragments and task outputs. Codecs are pluggable;
// the driver and every worker of a pool must agree on the codecs in
// use. The local execution path bypasses codecs entirely.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(p []byte, v interface{}) error
}

// Gob is the default codec. Values transported inside interfaces
// (dataset implementations, cached values, task results of named
// types) must be registered with encoding/gob.
var Gob Codec = gobCodec{}

type gobCodec struct{}

func (gobCodec) Encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		// Here we're encoding user-defined types. We pessimistically
		// attribute any errors that appear to come from gob as being
		// related to the inability to encode this user-defined type.
		if strings.HasPrefix(err.Error(), "gob: ") {
			err = errors.E(errors.Fatal, err)
		}
		return nil, err
	}
	return b.Bytes(), nil
}

func (gobCodec) Decode(p []byte, v interface{}) error {
	err := gob.NewDecoder(bytes.NewReader(p)).Decode(v)
	if err != nil && strings.HasPrefix(err.Error(), "gob: ") {
		err = errors.E(errors.Fatal, err)
	}
	return err
}

// seal appends a checksum of p so that transport corruption is
// detected on receipt rather than surfacing as a confusing decode
// error inside a worker.
func seal(p []byte) []byte {
	sealed := make([]byte, len(p)+8)
	copy(sealed, p)
	binary.LittleEndian.PutUint64(sealed[len(p):], murmur3.Sum64(p))
	return sealed
}

// open verifies and strips the checksum appended by seal.
func open(p []byte) ([]byte, error) {
	if len(p) < 8 {
		return nil, errors.E(errors.Invalid, "short message")
	}
	var (
		data = p[:len(p)-8]
		sum  = binary.LittleEndian.Uint64(p[len(p)-8:])
	)
	if computed := murmur3.Sum64(data); computed != sum {
		return nil, errors.E(errors.Integrity, errors.New("checksum mismatch"))
	}
	return data, nil
}
