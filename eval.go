package hzr

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/happyhackingspace/hzr/internal/storage"
	"github.com/happyhackingspace/hzr/lstm"
)

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	TopK    int
	Workers int
}

// LabelStats counts results for one label or writer.
type LabelStats struct {
	Total int `json:"total"`
	Top1  int `json:"top1"`
	TopK  int `json:"topk"`
}

// EvalResult holds evaluation results over a labeled sample folder.
type EvalResult struct {
	TopK         int
	Total        int
	Top1Correct  int
	TopKCorrect  int
	Top1Accuracy float64
	TopKAccuracy float64
	Failed       int

	Labels   map[string]*LabelStats
	Writers  map[string]*LabelStats
	Confused map[string]map[string]int // true label -> top-1 prediction -> count
}

// ConfusedPair is one frequent top-1 mistake.
type ConfusedPair struct {
	Label     string
	Predicted string
	Count     int
}

// TopConfusions returns the n most frequent top-1 mistakes.
func (r *EvalResult) TopConfusions(n int) []ConfusedPair {
	var pairs []ConfusedPair
	for label, preds := range r.Confused {
		for pred, count := range preds {
			pairs = append(pairs, ConfusedPair{label, pred, count})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		if pairs[i].Label != pairs[j].Label {
			return pairs[i].Label < pairs[j].Label
		}
		return pairs[i].Predicted < pairs[j].Predicted
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	return pairs
}

// Evaluate recognizes every sample indexed in dataDir and reports top-1 and
// top-K accuracy overall, per label, and per writer.
func Evaluate(ctx context.Context, r *Recognizer, dataDir string, config *EvalConfig) (*EvalResult, error) {
	topK := 5
	workers := runtime.NumCPU()
	if config != nil {
		if config.TopK > 0 {
			topK = config.TopK
		}
		if config.Workers > 0 {
			workers = config.Workers
		}
	}

	if topK > r.MaxTopK() {
		return nil, fmt.Errorf("hzr: %w: top-k %d exceeds %d", lstm.ErrCapacityExceeded, topK, r.MaxTopK())
	}

	store := storage.NewStorage(dataDir)
	samples, err := store.IterSamples(storage.DefaultIterOptions())
	if err != nil {
		return nil, fmt.Errorf("hzr: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("hzr: no samples found in %s", dataDir)
	}

	preds := make([][]Candidate, len(samples))
	errs := make([]error, len(samples))
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	for i := range samples {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, fmt.Errorf("hzr: %w", err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			preds[i], errs[i] = r.Recognize(samples[i].Strokes, topK)
		}(i)
	}
	wg.Wait()

	result := &EvalResult{
		TopK:     topK,
		Labels:   make(map[string]*LabelStats),
		Writers:  make(map[string]*LabelStats),
		Confused: make(map[string]map[string]int),
	}
	for i, s := range samples {
		if errs[i] != nil {
			Logger().Warn("Cannot recognize sample", "path", s.Path, "error", errs[i])
			result.Failed++
			continue
		}
		top1, topk := false, false
		for rank, c := range preds[i] {
			if c.Char == s.Label {
				top1 = rank == 0
				topk = true
				break
			}
		}

		result.Total++
		for _, st := range []*LabelStats{stats(result.Labels, s.Label), stats(result.Writers, s.Writer)} {
			st.Total++
			if top1 {
				st.Top1++
			}
			if topk {
				st.TopK++
			}
		}
		if top1 {
			result.Top1Correct++
		}
		if topk {
			result.TopKCorrect++
		}
		if !top1 && len(preds[i]) > 0 {
			m := result.Confused[s.Label]
			if m == nil {
				m = make(map[string]int)
				result.Confused[s.Label] = m
			}
			m[preds[i][0].Char]++
		}
	}
	if result.Total > 0 {
		result.Top1Accuracy = float64(result.Top1Correct) / float64(result.Total)
		result.TopKAccuracy = float64(result.TopKCorrect) / float64(result.Total)
	}
	return result, nil
}

func stats(m map[string]*LabelStats, key string) *LabelStats {
	s, ok := m[key]
	if !ok {
		s = &LabelStats{}
		m[key] = s
	}
	return s
}
