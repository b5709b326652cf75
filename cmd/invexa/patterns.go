package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/invexa/invexa-go/extract"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns <patterns.json>",
	Short: "Inspect learned supplier patterns",
	Long: `Inspect a supplier patterns file produced by "invexa extract --patterns".

Shows, per supplier, how many invoices were processed, the average
confidence and item count, and the parsing pass the supplier's layouts
tend to need.`,
	Args: cobra.ExactArgs(1),
	RunE: showPatterns,
}

func showPatterns(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading patterns file: %w", err)
	}
	patterns := extract.NewSupplierPatterns()
	if err := patterns.Import(data); err != nil {
		return fmt.Errorf("parsing patterns file: %w", err)
	}

	exported, err := patterns.Export()
	if err != nil {
		return err
	}
	rows, err := patternRows(exported)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUPPLIER\tEXTRACTIONS\tAVG CONF\tAVG ITEMS\tPREFERRED PASS\tLAST SEEN")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.1f\t%s\t%s\n",
			r.Supplier, r.Extractions, r.AvgConfidence, r.AvgItemCount,
			r.PreferredPass, r.LastSeen.Format("2006-01-02"))
	}
	return w.Flush()
}

func patternRows(exported []byte) ([]extract.SupplierPattern, error) {
	byKey, err := extract.DecodePatterns(exported)
	if err != nil {
		return nil, err
	}
	rows := make([]extract.SupplierPattern, 0, len(byKey))
	for _, p := range byKey {
		rows = append(rows, *p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Extractions > rows[j].Extractions })
	return rows, nil
}
