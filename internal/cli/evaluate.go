package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/happyhackingspace/hzr"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var dataFolder string
	var modelPath string
	var topK int
	var worst int

	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Evaluate model accuracy on labeled samples",
		Example: `  hzr evaluate --data-folder data --top-k 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.loadModel(modelPath)
			if err != nil {
				return err
			}

			slog.Info("Evaluating", "data-folder", dataFolder, "top-k", topK)
			start := time.Now()
			result, err := hzr.Evaluate(context.Background(), r, dataFolder, &hzr.EvalConfig{
				TopK:    topK,
				Workers: c.cfg.Workers,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Top-1 accuracy: %.1f%% (%d/%d)\n",
				result.Top1Accuracy*100, result.Top1Correct, result.Total)
			fmt.Printf("Top-%d accuracy: %.1f%% (%d/%d)\n",
				result.TopK, result.TopKAccuracy*100, result.TopKCorrect, result.Total)
			if result.Failed > 0 {
				fmt.Printf("Failed samples: %d\n", result.Failed)
			}
			if len(result.Writers) > 1 {
				printStatsReport("writer", result.Writers, result.TopK, 0)
			}
			printStatsReport("label", result.Labels, result.TopK, worst)
			printConfusions(result.TopConfusions(worst))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to labeled sample folder")
	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: from config)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Rank within which a prediction counts as correct")
	cmd.Flags().IntVar(&worst, "worst", 20, "Number of worst labels and confusions to list")
	return cmd
}

// printStatsReport lists groups by ascending top-1 accuracy; limit 0 lists
// all of them.
func printStatsReport(kind string, stats map[string]*hzr.LabelStats, topK, limit int) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	acc := func(k string) float64 {
		return float64(stats[k].Top1) / float64(stats[k].Total)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := acc(keys[i]), acc(keys[j])
		if ai != aj {
			return ai < aj
		}
		return keys[i] < keys[j]
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	fmt.Printf("\nPer-%s accuracy:\n", kind)
	fmt.Printf("%10s  %6s  %6s  %7s\n", kind, "top-1", fmt.Sprintf("top-%d", topK), "support")
	for _, k := range keys {
		s := stats[k]
		fmt.Printf("%10s  %5.1f%%  %5.1f%%  %7d\n",
			k, acc(k)*100, float64(s.TopK)/float64(s.Total)*100, s.Total)
	}
}

func printConfusions(pairs []hzr.ConfusedPair) {
	if len(pairs) == 0 {
		return
	}
	fmt.Printf("\nMost frequent confusions (true -> predicted):\n")
	for _, p := range pairs {
		fmt.Printf("%8s -> %-8s %5d\n", p.Label, p.Predicted, p.Count)
	}
}
