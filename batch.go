package hzr

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RecognizeAll recognizes every input with at most workers calls running
// at once. Results are in input order. The first error cancels the
// remaining work.
func (r *Recognizer) RecognizeAll(ctx context.Context, inputs [][]Stroke, topK, workers int) ([][]Candidate, error) {
	out := make([][]Candidate, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, strokes := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands, err := r.Recognize(strokes, topK)
			if err != nil {
				return err
			}
			out[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
