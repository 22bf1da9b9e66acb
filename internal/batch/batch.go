// Package batch recognizes many images with bounded concurrency.
package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/params"
)

// Item is one image to recognize.
type Item struct {
	Name        string
	ImageBase64 string
}

// Result is the outcome for the Item with the same index.
type Result struct {
	Name     string
	Text     string
	Err      error
	Duration time.Duration
}

// Run recognizes every item with at most concurrency calls in flight.
// A failed item never cancels its siblings. Results keep input order.
func Run(ctx context.Context, log *slog.Logger, rec llm.Recognizer, items []Item, language string, bag params.Bag, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = common.DefaultWorkerCount
	}
	results := make([]Result, len(items))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = process(ctx, log.With("item", item.Name), rec, item, language, bag)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func process(ctx context.Context, log *slog.Logger, rec llm.Recognizer, item Item, language string, bag params.Bag) Result {
	res := Result{Name: item.Name}
	if err := ctx.Err(); err != nil {
		res.Err = err
		log.Debug("skipped, context done")
		return res
	}

	start := time.Now()
	text, err := rec.Recognize(ctx, llm.Request{
		ImageBase64: item.ImageBase64,
		Language:    language,
		Parameters:  bag,
	})
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		log.Error("recognition failed", "err", err, "duration", res.Duration)
		return res
	}
	res.Text = text
	log.Debug("recognition done", "chars", len(text), "duration", res.Duration)
	return res
}

// Failed counts results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
