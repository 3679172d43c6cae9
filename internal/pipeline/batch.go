package pipeline

import (
	"context"

	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
)

// BatchItem is the outcome of one source in a batch, in input order
type BatchItem struct {
	Index  int
	Source decoder.Source
	Result *Result
	Err    error
}

// ClassifyBatch classifies every source as an independent request on at
// most workers goroutines.
func (p *Pipeline) ClassifyBatch(ctx context.Context, sources []decoder.Source, workers int) []BatchItem {
	items := make([]BatchItem, len(sources))
	if len(sources) == 0 {
		return items
	}
	if workers > len(sources) {
		workers = len(sources)
	}

	pool := NewWorkerPool(workers)
	pool.Start()
	defer pool.Close()

	for i, src := range sources {
		i, src := i, src
		pool.Submit(func() {
			result, err := p.Classify(ctx, src)
			items[i] = BatchItem{Index: i, Source: src, Result: result, Err: err}
		})
	}
	pool.Wait()

	return items
}
