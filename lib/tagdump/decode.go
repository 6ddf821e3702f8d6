// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tagdump

import (
	"context"
	"runtime"
	"sync"

	"github.com/bureau-foundation/spooltag/lib/payload"
)

// Outcome is the decode result for one archive item.
type Outcome struct {
	Index  int
	Item   Item
	Result *payload.Result
	Err    error
}

// DecodeAll decodes every item with decoder using up to workers
// goroutines (zero selects GOMAXPROCS). Outcomes are returned in item
// order. Items not started before ctx is done carry ctx.Err().
func DecodeAll(ctx context.Context, decoder *payload.Decoder, items []Item, workers int) []Outcome {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(items))

	outcomes := make([]Outcome, len(items))
	indexes := make(chan int)
	var waitGroup sync.WaitGroup
	for range workers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for index := range indexes {
				result, err := decoder.DecodeDetailed(payload.Bytes(items[index].Data))
				outcomes[index] = Outcome{Index: index, Item: items[index], Result: result, Err: err}
			}
		}()
	}

	next := 0
feed:
	for ; next < len(items); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case indexes <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	waitGroup.Wait()

	for index := next; index < len(items); index++ {
		outcomes[index] = Outcome{Index: index, Item: items[index], Err: ctx.Err()}
	}
	return outcomes
}
