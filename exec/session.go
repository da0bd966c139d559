// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements the sparklet job execution engine: a
// Session chooses between in-process and pool-dispatched execution of
// a job, prepares per-partition task bundles, and reassembles results
// and cache state on the driver side.
package exec

import (
	"context"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/sparklet"
	"github.com/grailbio/sparklet/cache"
	"github.com/grailbio/sparklet/seqio"
	"github.com/grailbio/sparklet/stats"
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxCachedPayloads bounds the number of encoded (func, dataset) job
// payloads retained across Run calls.
const maxCachedPayloads = 128

// A Session is the job execution engine. It owns the driver-side
// cache manager, which lives for the life of the session and outlives
// individual jobs, and a set of cumulative statistics to which every
// Run call adds.
//
// A session is created by Start and released by Shutdown:
//
//	sess := exec.Start(exec.Goroutine(8))
//	defer sess.Shutdown()
type Session struct {
	pool      Pool
	funcCodec Codec
	dataCodec Codec

	cache    *cache.Manager
	stats    *stats.Map
	ids      sparklet.IDAllocator
	payloads *lru.Cache[payloadKey, payloadEntry]
	shutdown func()
}

type payloadKey struct {
	Func    uint64
	Dataset sparklet.DatasetID
}

type payloadEntry struct {
	dataset sparklet.Dataset
	data    []byte
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Sequential configures a session with the trivial sequential pool.
// Jobs on such a session run on the local path.
var Sequential Option = func(s *Session) {
	s.pool = newSeqPool()
}

// Goroutine configures a session with a pool of n concurrent
// in-process workers.
func Goroutine(n int) Option {
	return func(s *Session) {
		s.pool = NewGoroutinePool(n)
	}
}

// WithPool configures a session with the provided pool, e.g. a
// bigmachine pool from NewMachinePool.
func WithPool(p Pool) Option {
	return func(s *Session) {
		s.pool = p
	}
}

// FuncCodec configures the codec used for job payloads (func and
// dataset). The default is Gob.
func FuncCodec(c Codec) Option {
	return func(s *Session) {
		s.funcCodec = c
	}
}

// DataCodec configures the codec used for partitions, cache fragments
// and task outputs. The default is Gob.
func DataCodec(c Codec) Option {
	return func(s *Session) {
		s.dataCodec = c
	}
}

// Start creates and starts a new session, configured by the provided
// options. With no pool option, the session uses the trivial
// sequential pool.
func Start(options ...Option) *Session {
	s := &Session{
		funcCodec: Gob,
		dataCodec: Gob,
		cache:     cache.New(),
		stats:     stats.NewMap(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.pool == nil {
		s.pool = newSeqPool()
	}
	s.payloads, _ = lru.New[payloadKey, payloadEntry](maxCachedPayloads)
	s.shutdown = s.pool.Start(s)
	return s
}

// Shutdown releases the session's pool resources. The driver cache
// is not torn down; it is owned by the session value itself.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// Cache returns the session's driver-side cache manager.
func (s *Session) Cache() *cache.Manager { return s.cache }

// Stats returns a snapshot of the session's cumulative per-phase
// statistics. Statistics are additive across Run calls and reflect
// the whole session.
func (s *Session) Stats() stats.Values {
	values := make(stats.Values)
	s.stats.AddAll(values)
	return values
}

// Parallelize distributes the collection over numPartitions
// partitions and returns a source dataset over them. If
// numPartitions is less than one, a single partition holds the whole
// collection.
func (s *Session) Parallelize(collection []interface{}, numPartitions int) sparklet.Dataset {
	return sparklet.NewSliceDataset(s.ids.Next(), sparklet.Split(collection, numPartitions))
}

// Persist returns a dataset that materializes d's computed partitions
// in the active cache manager, under a freshly issued identity.
func (s *Session) Persist(d sparklet.Dataset) sparklet.Dataset {
	return sparklet.Persist(s.ids.Next(), d)
}

// A RunOption configures one Run call.
type RunOption func(*runConfig)

type runConfig struct {
	parts      []*sparklet.Partition
	allowLocal bool
}

// Partitions restricts a job to the provided partitions, processed in
// the order given.
func Partitions(parts ...*sparklet.Partition) RunOption {
	return func(c *runConfig) {
		c.parts = parts
	}
}

// AllowLocal forces a job onto the local execution path regardless of
// the session's pool.
var AllowLocal RunOption = func(c *runConfig) {
	c.allowLocal = true
}

// Run applies fn to every partition of d (or to the partitions given
// by a Partitions option), returning a lazy sequence of per-partition
// results. The caller owns driving the sequence to completion;
// results are yielded in the order the pool produces them, which for
// the sequential pool is dispatch order. Abandoning the sequence
// before EOF leaves the job's remaining cache deltas unjoined; when
// the job was dispatched, the returned reader implements io.Closer,
// and an abandoned sequence must be closed to release the pool's
// outstanding senders.
//
// The job runs on the local path when the AllowLocal option is given
// or the session's pool is the trivial sequential pool; otherwise
// partitions are dispatched through the pool as serialized task
// bundles. An error from any task fails the whole job; no partial
// results are synthesized.
func (s *Session) Run(ctx context.Context, d sparklet.Dataset, fn *sparklet.FuncValue, options ...RunOption) (seqio.Reader, error) {
	var c runConfig
	for _, opt := range options {
		opt(&c)
	}
	parts := c.parts
	if parts == nil {
		parts = d.Partitions()
	}
	job := uuid.New()
	if c.allowLocal || s.trivial() {
		log.Debug.Printf("job %s: running %d partitions locally", job, len(parts))
		return &localReader{sess: s, dataset: d, fn: fn, parts: parts}, nil
	}
	log.Debug.Printf("job %s: dispatching %d partitions", job, len(parts))
	return s.dispatch(ctx, d, fn, parts)
}

// Collect runs the job and forces the result sequence into a
// collection, triggering full execution. It is the default result
// handler.
func (s *Session) Collect(ctx context.Context, d sparklet.Dataset, fn *sparklet.FuncValue, options ...RunOption) ([]interface{}, error) {
	results, err := s.Run(ctx, d, fn, options...)
	if err != nil {
		return nil, err
	}
	return seqio.ReadAll(ctx, results)
}

func (s *Session) trivial() bool {
	_, ok := s.pool.(*seqPool)
	return ok
}

// A localReader evaluates the job in-process, one partition per Read,
// against the driver's cache manager directly: no cloning, no
// codecs, no delta shipping.
type localReader struct {
	sess    *Session
	dataset sparklet.Dataset
	fn      *sparklet.FuncValue
	parts   []*sparklet.Partition
	next    int
}

func (r *localReader) Read(ctx context.Context) (interface{}, error) {
	if r.next >= len(r.parts) {
		return nil, seqio.EOF
	}
	p := r.parts[r.next]
	r.next++
	tc := &sparklet.TaskContext{PartitionID: p.Index, Cache: r.sess.cache}
	return r.fn.Invoke(ctx, tc, r.dataset.Compute(tc, p))
}

// dispatch implements the distributed path: the job payload is
// encoded once, each partition's bundle is assembled independently
// with the cache fragment relevant to it, and replies are drained
// lazily, joining each task's cache delta into the driver cache as
// its result is surfaced.
func (s *Session) dispatch(ctx context.Context, d sparklet.Dataset, fn *sparklet.FuncValue, parts []*sparklet.Partition) (seqio.Reader, error) {
	payload, err := s.jobPayload(d, fn)
	if err != nil {
		return nil, err
	}
	bundles := make([][]byte, len(parts))
	err = traverse.Each(len(parts), func(i int) error {
		p := parts[i]

		stop := s.stats.Timer("driver_cache_clone")
		frag := s.cache.Clone(func(id cache.Ident) bool {
			return id.Partition == p.Index
		})
		stop()

		var fragBytes []byte
		if frag.Len() > 0 {
			stop = s.stats.Timer("driver_cache_encode")
			var err error
			fragBytes, err = s.dataCodec.Encode(frag)
			stop()
			if err != nil {
				return err
			}
		}

		stop = s.stats.Timer("driver_encode_data")
		partBytes, err := s.dataCodec.Encode(p)
		stop()
		if err != nil {
			return err
		}

		encoded, err := Gob.Encode(taskBundle{
			Job:   payload,
			Data:  partBytes,
			Cache: fragBytes,
		})
		if err != nil {
			return err
		}
		bundles[i] = seal(encoded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &distReader{
		sess:    s,
		ctx:     ctx,
		cancel:  cancel,
		replies: s.pool.Map(ctx, bundles),
		pending: len(bundles),
	}, nil
}

// jobPayload returns the encoded (func, dataset) pair shared by all
// of a job's bundles. Since datasets are immutable, encoded payloads
// are memoized across Run calls. A memoized payload is reused only
// for the very dataset value it was encoded from, so caller-chosen
// identities that collide across datasets never alias another
// dataset's payload.
func (s *Session) jobPayload(d sparklet.Dataset, fn *sparklet.FuncValue) ([]byte, error) {
	key := payloadKey{Func: fn.Index(), Dataset: d.ID()}
	if entry, ok := s.payloads.Get(key); ok && entry.dataset == d {
		return entry.data, nil
	}
	payload, err := s.funcCodec.Encode(jobPayload{Func: fn.Index(), Dataset: d})
	if err != nil {
		return nil, err
	}
	s.payloads.Add(key, payloadEntry{dataset: d, data: payload})
	return payload, nil
}

// A distReader surfaces a dispatched job's results as they are
// produced by the pool. Each reply's cache delta is joined into the
// driver cache, and its timing breakdown merged into the session
// statistics, before the reply's result is yielded.
type distReader struct {
	sess    *Session
	ctx     context.Context
	cancel  context.CancelFunc
	replies <-chan Reply
	pending int
	err     error
}

func (r *distReader) Read(ctx context.Context) (interface{}, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.pending == 0 {
		// Covers jobs dispatched with no partitions, whose dispatch
		// context would otherwise never be released.
		r.cancel()
		return nil, seqio.EOF
	}
	var (
		reply Reply
		ok    bool
	)
	select {
	case reply, ok = <-r.replies:
		if !ok {
			return r.fail(errors.New("pool stopped before all replies were produced"))
		}
	case <-ctx.Done():
		return r.fail(ctx.Err())
	case <-r.ctx.Done():
		return r.fail(r.ctx.Err())
	}
	if reply.Err != nil {
		return r.fail(reply.Err)
	}

	stop := r.sess.stats.Timer("driver_decode_data")
	data, err := open(reply.Data)
	if err != nil {
		stop()
		return r.fail(err)
	}
	var out taskOutput
	if err := r.sess.dataCodec.Decode(data, &out); err != nil {
		stop()
		return r.fail(err)
	}
	stop()

	stop = r.sess.stats.Timer("driver_cache_join")
	r.sess.cache.Join(out.Cache)
	stop()

	for k, v := range out.Timings {
		r.sess.stats.Int(k).Add(v)
	}

	r.pending--
	if r.pending == 0 {
		r.cancel()
	}
	return out.Result, nil
}

func (r *distReader) fail(err error) (interface{}, error) {
	r.err = err
	r.cancel()
	return nil, err
}

// Close cancels the job's remaining dispatch, releasing the pool's
// senders. Closing is needed only when the sequence is abandoned;
// reading through to EOF or to an error releases the dispatch on its
// own.
func (r *distReader) Close() error {
	r.cancel()
	return nil
}
