// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Wordcount counts word frequencies over a parallelized collection of
// lines, demonstrating sessions, funcs, persisted datasets and the
// per-phase timing statistics.
//
// Run with -p to vary the number of partitions and -workers to vary
// pool concurrency; -workers 0 selects the sequential (local) path.
package main

import (
	"context"
	"encoding/gob"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/sparklet"
	"github.com/grailbio/sparklet/exec"
	"github.com/grailbio/sparklet/seqio"
)

func init() {
	gob.Register(map[string]int{})
}

var countWords = sparklet.Func(func(ctx context.Context, tc *sparklet.TaskContext, in seqio.Reader) (interface{}, error) {
	counts := make(map[string]int)
	for {
		v, err := in.Read(ctx)
		if err == seqio.EOF {
			return counts, nil
		}
		if err != nil {
			return nil, err
		}
		for _, word := range strings.Fields(v.(string)) {
			counts[strings.ToLower(strings.Trim(word, ".,;:!?"))]++
		}
	}
})

var lines = []interface{}{
	"the quick brown fox jumps over the lazy dog",
	"the dog barks, the fox runs",
	"quick thinking saves the day",
	"a lazy afternoon, a quick nap",
}

func main() {
	var (
		partitions = flag.Int("p", 2, "number of partitions")
		workers    = flag.Int("workers", 2, "pool workers; 0 runs locally")
	)
	log.AddFlags()
	flag.Parse()

	var options []exec.Option
	if *workers > 0 {
		options = append(options, exec.Goroutine(*workers))
	}
	sess := exec.Start(options...)
	defer sess.Shutdown()

	ctx := context.Background()
	ds := sess.Persist(sess.Parallelize(lines, *partitions))
	results, err := sess.Collect(ctx, ds, countWords)
	if err != nil {
		log.Fatalf("wordcount: %v", err)
	}

	total := make(map[string]int)
	for _, r := range results {
		for word, n := range r.(map[string]int) {
			total[word] += n
		}
	}
	words := make([]string, 0, len(total))
	for word := range total {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if total[words[i]] != total[words[j]] {
			return total[words[i]] > total[words[j]]
		}
		return words[i] < words[j]
	})
	for _, word := range words {
		fmt.Printf("%s\t%d\n", word, total[word])
	}
	log.Printf("stats: %s", sess.Stats())
}
