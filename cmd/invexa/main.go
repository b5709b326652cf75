package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "invexa",
	Short: "Invexa - invoice table and line-item extraction engine",
	Long: `Invexa converts OCR word blocks from scanned invoices into verified
line items.

It combines geometric column/row detection, statistical column profiling,
multi-strategy row parsing and arithmetic reconciliation, with an optional
local-LLM reconstruction fallback for pages the geometric pipeline cannot
read.

Use invexa to extract line items from OCR dumps, inspect learned supplier
patterns, and serve extraction metrics.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(patternsCmd)
}
