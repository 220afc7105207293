package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gridmap/internal/config"
	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/region"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Summarise a period's grid classification",
	Long:  "Loads a period (or a single dataset file) and prints classification counts, overall or per region.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		period, _ := cmd.Flags().GetString("period")
		file, _ := cmd.Flags().GetString("file")
		charset, _ := cmd.Flags().GetString("charset")
		byRegion, _ := cmd.Flags().GetBool("by-region")
		asJSON, _ := cmd.Flags().GetBool("json")

		if err := cfg.Validate(byRegion); err != nil {
			return err
		}
		idx, err := cfg.Index()
		if err != nil {
			return err
		}

		res, err := classify(ctx, cfg, idx, period, file, charset)
		if err != nil {
			return err
		}

		if byRegion {
			regions, cells, err := loadGeometry(cfg)
			if err != nil {
				return err
			}
			policy, _ := region.ParseOverlapPolicy(cfg.Geometry.OverlapPolicy)
			m, err := region.Build(ctx, regions, cells,
				region.WithOverlapPolicy(policy),
				region.WithWorkers(cfg.Geometry.Workers),
			)
			if err != nil {
				return eris.Wrap(err, "classify: build membership")
			}
			res.Regions = regionCounts(m, res.table)
		}

		if asJSON {
			return writeIndented(os.Stdout, res)
		}
		formatClassification(os.Stdout, res)
		return nil
	},
}

// classification is the classify command's output.
type classification struct {
	Period     string          `json:"period"`
	Stats      dataset.Stats   `json:"stats"`
	Cells      int             `json:"cells"`
	Duplicates int             `json:"duplicates"`
	Counts     grid.Counts     `json:"counts"`
	Regions    []regionSummary `json:"regions,omitempty"`

	table *grid.Table
}

// regionSummary is one region's classification counts.
type regionSummary struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Cells  int         `json:"cells"`
	Counts grid.Counts `json:"counts"`
}

// classify loads either a single file or a manifest period.
func classify(ctx context.Context, c *config.Config, idx grid.Index, period, file, charset string) (classification, error) {
	var (
		table *grid.Table
		stats dataset.Stats
		err   error
	)
	if file != "" {
		if charset == "" {
			charset = c.Dataset.Charset
		}
		var records []grid.Record
		records, stats, err = dataset.ReadFile(ctx, file, dataset.Options{Charset: charset})
		if err != nil {
			return classification{}, err
		}
		table = grid.Build(idx, records)
		period = file
	} else {
		catalog, err := openCatalog(c)
		if err != nil {
			return classification{}, err
		}
		if period == "" {
			period = c.Dataset.Period
		}
		period, table, stats, err = loadPeriod(ctx, catalog, idx, period)
		if err != nil {
			return classification{}, err
		}
	}

	return classification{
		Period:     period,
		Stats:      stats,
		Cells:      table.Len(),
		Duplicates: table.Duplicates(),
		Counts:     table.Summary(),
		table:      table,
	}, nil
}

// regionCounts aggregates table over every region's cells, in region order.
func regionCounts(m *region.Membership, table *grid.Table) []regionSummary {
	regions := m.Regions()
	out := make([]regionSummary, 0, len(regions))
	for _, r := range regions {
		cells := m.Cells(r.ID)
		out = append(out, regionSummary{
			ID:     r.ID,
			Name:   r.Name,
			Cells:  len(cells),
			Counts: table.Aggregate(m.Keys(table.Index(), cells)),
		})
	}
	return out
}

// formatClassification writes the summary and optional per-region table.
func formatClassification(out io.Writer, res classification) {
	_, _ = fmt.Fprintf(out, "Period:      %s\n", res.Period)
	_, _ = fmt.Fprintf(out, "Rows:        %d (%d records, %d skipped)\n", res.Stats.Rows, res.Stats.Records, res.Stats.Skipped)
	_, _ = fmt.Fprintf(out, "Cells:       %d (%d duplicates)\n", res.Cells, res.Duplicates)
	for _, c := range grid.All {
		if n, ok := res.Counts[c]; ok {
			_, _ = fmt.Fprintf(out, "  %-16s %d\n", c.String(), n)
		}
	}

	if len(res.Regions) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprint(w, "REGION\tNAME\tCELLS")
	for _, c := range grid.All {
		_, _ = fmt.Fprintf(w, "\t%s", c.String())
	}
	_, _ = fmt.Fprintln(w)
	for _, r := range res.Regions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d", r.ID, r.Name, r.Cells)
		for _, c := range grid.All {
			_, _ = fmt.Fprintf(w, "\t%d", r.Counts[c])
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}

func init() {
	classifyCmd.Flags().String("period", "", "period name (default from config or manifest)")
	classifyCmd.Flags().String("file", "", "classify a single CSV/XLSX file instead of a manifest period")
	classifyCmd.Flags().String("charset", "", "source charset for --file, e.g. euc-kr")
	classifyCmd.Flags().Bool("by-region", false, "aggregate per region (requires geometry)")
	classifyCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(classifyCmd)
}
