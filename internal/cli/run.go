package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/happyhackingspace/hzr"
	"github.com/happyhackingspace/hzr/internal/ink"
	"github.com/spf13/cobra"
)

// fileResult is the output for one input file when several are given.
type fileResult struct {
	File       string          `json:"file"`
	Candidates []hzr.Candidate `json:"candidates"`
}

func (c *CLI) newRunCommand() *cobra.Command {
	var modelPath string
	var topK int
	var noTiming bool

	cmd := &cobra.Command{
		Use:   "run [stroke-file...]",
		Short: "Recognize the characters drawn in stroke files or stdin",
		Example: `  # Recognize a JSON stroke file
  hzr run sample.json

  # Recognize a reMarkable page
  hzr run page.rm

  # Several files at once, recognized in parallel
  hzr run a.json b.json c.rm

  # Pipe strokes from stdin
  cat sample.json | hzr run

  # Show the five best candidates
  hzr run sample.json --top-k 5

  # Use custom model file
  hzr run sample.json --model zh.hzmodel

  # Ignore timestamps
  hzr run sample.json --no-timing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if topK > 0 {
				c.cfg.TopK = topK
			}
			if noTiming {
				c.cfg.Timing = false
			}

			var inputs [][]hzr.Stroke
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				strokes, err := readFromStdin()
				if err != nil {
					return err
				}
				inputs = append(inputs, strokes)
			} else {
				for _, path := range args {
					slog.Debug("Reading strokes", "path", path)
					strokes, err := ink.ReadFile(path)
					if err != nil {
						return err
					}
					inputs = append(inputs, strokes)
				}
			}

			start := time.Now()
			r, err := c.loadModel(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start))

			start = time.Now()
			results, err := r.RecognizeAll(context.Background(), inputs, c.cfg.TopK, c.cfg.Workers)
			if err != nil {
				return err
			}
			slog.Debug("Recognition completed", "inputs", len(inputs), "duration", time.Since(start))

			var output []byte
			if len(args) <= 1 {
				output, _ = json.MarshalIndent(results[0], "", "  ")
			} else {
				out := make([]fileResult, len(args))
				for i, path := range args {
					out[i] = fileResult{File: path, Candidates: results[i]}
				}
				output, _ = json.MarshalIndent(out, "", "  ")
			}
			fmt.Println(string(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: from config)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of candidates to report (default: from config)")
	cmd.Flags().BoolVar(&noTiming, "no-timing", false, "Ignore stroke timestamps")
	return cmd
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// loadModel opens the model named by the flag or the config. A relative
// name that does not exist is searched for in parent directories.
func (c *CLI) loadModel(modelPath string) (*hzr.Recognizer, error) {
	if modelPath == "" {
		modelPath = c.cfg.Model
	}
	if _, err := os.Stat(modelPath); os.IsNotExist(err) && !filepath.IsAbs(modelPath) {
		found, ferr := hzr.Find(modelPath)
		if ferr != nil {
			return nil, fmt.Errorf("model %s: %w", modelPath, ferr)
		}
		modelPath = found
	}
	slog.Debug("Loading model", "path", modelPath)
	return hzr.Load(modelPath, c.options())
}

func readFromStdin() ([]hzr.Stroke, error) {
	slog.Debug("Reading from stdin")
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return ink.Decode(body)
}
