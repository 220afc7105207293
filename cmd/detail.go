package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gridmap/pkg/detail"
)

var detailCmd = &cobra.Command{
	Use:   "detail",
	Short: "Look up a grid cell's detail",
	Long:  "Queries the configured detail service (or the local store when detail.local_data is set) for the cell at a coordinate.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lon, _ := cmd.Flags().GetFloat64("lon")
		lat, _ := cmd.Flags().GetFloat64("lat")
		area, _ := cmd.Flags().GetBool("area")
		asJSON, _ := cmd.Flags().GetBool("json")

		backend, err := openDetail(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		ctx, cancel := context.WithTimeout(ctx, cfg.Detail.Timeout())
		defer cancel()

		if area {
			a, err := backend.Client.Area(ctx, lon, lat)
			if err != nil {
				return eris.Wrap(err, "detail: area")
			}
			return writeIndented(os.Stdout, a)
		}

		rec, err := backend.Client.Cell(ctx, lon, lat)
		if err != nil {
			return eris.Wrap(err, "detail: cell")
		}
		if asJSON {
			return writeIndented(os.Stdout, rec)
		}
		formatDetail(os.Stdout, rec)
		return nil
	},
}

// formatDetail writes a record's naming and its population by age band.
func formatDetail(out io.Writer, rec *detail.Record) {
	_, _ = fmt.Fprintf(out, "Grid:        %s\n", rec.Grid100)
	_, _ = fmt.Fprintf(out, "Area:        %s %s %s\n", rec.City, rec.HArea, rec.BArea)
	if rec.TotalPopulation != nil {
		_, _ = fmt.Fprintf(out, "Population:  %d\n", *rec.TotalPopulation)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGE\tCOUNT")
	for _, b := range rec.AgeBands() {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", b.Label, b.Count)
	}
	_ = w.Flush()
}

func init() {
	detailCmd.Flags().Float64("lon", 0, "longitude")
	detailCmd.Flags().Float64("lat", 0, "latitude")
	detailCmd.Flags().Bool("area", false, "return only the administrative area")
	detailCmd.Flags().Bool("json", false, "print JSON")
	_ = detailCmd.MarkFlagRequired("lon")
	_ = detailCmd.MarkFlagRequired("lat")
	rootCmd.AddCommand(detailCmd)
}
