package lstm

import (
	"fmt"
	"math"
	"sort"
)

// Forward runs every layer of m over the n feature rows in feats and
// returns the final layer output, one row of 2·HiddenSize values per
// timestep (forward direction first). It allocates freshly on every call.
func Forward(m *Model, feats []float32, n int) ([][]float64, error) {
	f := m.Dims.NumFeatures
	if n < 0 || len(feats) < n*f {
		return nil, fmt.Errorf("%w: %d feature values for %d timesteps of width %d", ErrMalformedModel, len(feats), n, f)
	}

	seq := make([][]float64, n)
	for t := range seq {
		row := make([]float64, f)
		for j := range row {
			row[j] = float64(feats[t*f+j])
		}
		seq[t] = row
	}

	for l := range m.Layers {
		layer := &m.Layers[l]
		fw := runDirection(&layer.Forward, seq, m.Dims.HiddenSize, false)
		bw := runDirection(&layer.Backward, seq, m.Dims.HiddenSize, true)
		next := make([][]float64, n)
		for t := range next {
			next[t] = append(append(make([]float64, 0, 2*m.Dims.HiddenSize), fw[t]...), bw[t]...)
		}
		seq = next
	}
	return seq, nil
}

func runDirection(w *DirectionWeights, seq [][]float64, hidden int, reverse bool) [][]float64 {
	out := make([][]float64, len(seq))
	h := make([]float64, hidden)
	c := make([]float64, hidden)
	for step := range seq {
		t := step
		if reverse {
			t = len(seq) - 1 - step
		}
		var gates [NumGates][]float64
		for g := range NumGates {
			gates[g] = make([]float64, hidden)
			for i := range hidden {
				gates[g][i] = float64(w.Bias[g][i])
			}
			matVec(&w.Input[g], seq[t], gates[g])
			matVec(&w.Recurrent[g], h, gates[g])
		}

		nh := make([]float64, hidden)
		for i := range hidden {
			ig := sigmoid(gates[GateInput][i])
			cg := math.Tanh(gates[GateCell][i])
			fg := sigmoid(gates[GateForget][i])
			og := sigmoid(gates[GateOutput][i])
			c[i] = fg*c[i] + ig*cg
			nh[i] = og * math.Tanh(c[i])
		}
		h = nh
		out[t] = nh
	}
	return out
}

// matVec adds k·x to dst.
func matVec(k *QuantizedKernel, x, dst []float64) {
	scale := float64(k.Scale)
	for i := range k.Rows {
		var sum float64
		for j, q := range k.Row(i) {
			sum += float64(q) * x[j]
		}
		dst[i] += scale * sum
	}
}

// Logits returns the classifier output for one hidden row.
func Logits(m *Model, row []float64) []float64 {
	out := make([]float64, m.Dims.NumClasses)
	for i := range out {
		out[i] = float64(m.FCBias[i])
	}
	matVec(&m.FC, row, out)
	return out
}

// Softmax returns the normalized exponentials of logits. The maximum is
// subtracted first so large logits do not overflow.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	hi := logits[0]
	for _, v := range logits[1:] {
		hi = max(hi, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Decode returns up to topK class ids whose maximum probability over all
// timesteps exceeds Threshold, best first, together with those
// probabilities. The blank class is never returned and exact ties keep
// the lower class id first.
func Decode(m *Model, hidden [][]float64, topK int) ([]int, []float64) {
	best := make([]float64, m.Dims.NumClasses)
	blank := m.Blank()
	for _, row := range hidden {
		probs := Softmax(Logits(m, row))
		for c, p := range probs {
			if c != blank && p > best[c] {
				best[c] = p
			}
		}
	}

	var idx []int
	for c, p := range best {
		if c != blank && p > Threshold {
			idx = append(idx, c)
		}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return best[idx[i]] > best[idx[j]]
	})
	if topK < 0 {
		topK = 0
	}
	if len(idx) > topK {
		idx = idx[:topK]
	}

	scores := make([]float64, len(idx))
	for i, c := range idx {
		scores[i] = best[c]
	}
	return idx, scores
}
