package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// ModelsCmd lists the models of every configured client.
type ModelsCmd struct {
	Refresh bool `help:"Query discovery-enabled clients before listing"`
}

// Run executes the models command.
func (c *ModelsCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := cli.setup(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	if c.Refresh {
		if err := a.Registry().Refresh(ctx); err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
	}
	return printModels(os.Stdout, a.Registry().ListModels())
}

func printModels(w io.Writer, models []core.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCAPABILITIES\tMAX INPUT\tMAX OUTPUT")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID(), m.Capabilities, limit(m.MaxInputTokens), limit(m.MaxOutputTokens))
	}
	return tw.Flush()
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
