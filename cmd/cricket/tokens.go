package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/cricket/pkg/tokens"
)

func newTokensCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "tokens [text]",
		Short: "Count tokens in text from the argument or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := messageFromArgsOrStdin(args)
			if err != nil {
				return err
			}
			est, err := tokens.NewEstimatorWithEncoding(encoding)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), est, content)
			return nil
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", tokens.DefaultEncoding, "tiktoken encoding to count with")
	return cmd
}

func printStats(out io.Writer, est *tokens.Estimator, content string) {
	fmt.Fprintf(out, "Statistics:\n")
	if est != nil {
		if n, err := est.Count(content); err == nil {
			fmt.Fprintf(out, "  Tokens: %d\n", n)
		}
	}
	fmt.Fprintf(out, "  Lines:  %d\n", strings.Count(content, "\n")+1)
	fmt.Fprintf(out, "  Size:   %d bytes\n", len(content))
}
