package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gridmap/internal/region"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Build region membership and print its statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(true); err != nil {
			return err
		}

		only, _ := cmd.Flags().GetString("region")
		asJSON, _ := cmd.Flags().GetBool("json")

		pending, err := startMembership(ctx, cfg)
		if err != nil {
			return err
		}
		m, err := pending.Wait(ctx)
		if err != nil {
			return eris.Wrap(err, "regions: build membership")
		}

		if only != "" {
			r, ok := m.Region(only)
			if !ok {
				return eris.Errorf("regions: unknown region %q", only)
			}
			if asJSON {
				return writeIndented(os.Stdout, map[string]any{"region": r.ID, "name": r.Name, "cells": m.Cells(r.ID)})
			}
			formatRegionCells(os.Stdout, m, r)
			return nil
		}

		rows := regionRows(m)
		if asJSON {
			return writeIndented(os.Stdout, map[string]any{"stats": m.Stats(), "regions": rows})
		}
		formatRegions(os.Stdout, m.Stats(), rows)
		return nil
	},
}

// regionRow is one line of the regions listing.
type regionRow struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Cells int         `json:"cells"`
	BBox  region.BBox `json:"bbox"`
}

func regionRows(m *region.Membership) []regionRow {
	regions := m.Regions()
	rows := make([]regionRow, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, regionRow{
			ID:    r.ID,
			Name:  r.Name,
			Cells: len(m.Cells(r.ID)),
			BBox:  region.Bounds(r.Geometry),
		})
	}
	return rows
}

// formatRegions writes membership statistics and a per-region table.
func formatRegions(out io.Writer, s region.Stats, rows []regionRow) {
	_, _ = fmt.Fprintf(out, "Regions:     %d\n", s.Regions)
	_, _ = fmt.Fprintf(out, "Cells:       %d (%d assigned, %d unassigned)\n", s.Cells, s.Assigned, s.Unassigned)
	if s.Overlapping > 0 {
		_, _ = fmt.Fprintf(out, "Overlapping: %d\n", s.Overlapping)
	}
	if s.Unsupported > 0 {
		_, _ = fmt.Fprintf(out, "Unsupported: %d\n", s.Unsupported)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCELLS")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.Name, r.Cells)
	}
	_ = w.Flush()
}

// formatRegionCells lists one region's cells with their representative points.
func formatRegionCells(out io.Writer, m *region.Membership, r region.Region) {
	cells := m.Cells(r.ID)
	_, _ = fmt.Fprintf(out, "%s (%s): %d cells\n", r.Name, r.ID, len(cells))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CELL\tLON\tLAT")
	for _, id := range cells {
		pt, _ := m.Point(id)
		_, _ = fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", id, pt.Lon, pt.Lat)
	}
	_ = w.Flush()
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	regionsCmd.Flags().String("region", "", "list the cells of one region")
	regionsCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(regionsCmd)
}
