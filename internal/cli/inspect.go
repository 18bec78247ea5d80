package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newInspectCommand() *cobra.Command {
	var vocab bool

	cmd := &cobra.Command{
		Use:   "inspect [model]",
		Short: "Show model header and dimensions",
		Args:  cobra.MaximumNArgs(1),
		Example: `  hzr inspect
  hzr inspect zh.hzmodel --vocab`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			r, err := c.loadModel(path)
			if err != nil {
				return err
			}

			output, _ := json.MarshalIndent(r.Info(), "", "  ")
			fmt.Println(string(output))
			if vocab {
				m := r.Model()
				for i, s := range m.Vocab {
					fmt.Printf("%6d  %s\n", i, s)
				}
				fmt.Printf("%6d  (blank)\n", m.Blank())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&vocab, "vocab", false, "Also list the vocabulary")
	return cmd
}
