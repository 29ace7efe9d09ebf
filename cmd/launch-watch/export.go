package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/launch-watch/internal/model"
	"github.com/devblac/launch-watch/internal/storage"
)

var (
	flagExportFormat string
	flagExportWhat   string
	flagExportLimit  int
	flagExportOut    string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json|csv")
	exportCmd.Flags().StringVar(&flagExportWhat, "what", "alerts", "Dataset: alerts|watchlist|cursors")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 1000, "Maximum alerts to export")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alerts, watchlist or cursors as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unsupported format %q", flagExportFormat)
		}
		return withStore(func(st *storage.Store) error {
			table, err := exportTable(cmd, st, strings.ToLower(flagExportWhat))
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if flagExportOut != "" {
				f, err := os.Create(flagExportOut)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			if format == "csv" {
				return table.writeCSV(w)
			}
			return table.writeJSON(w)
		})
	},
}

// table is a header plus string rows, rendered as csv or as json objects.
type table struct {
	header []string
	rows   [][]string
}

func exportTable(cmd *cobra.Command, st *storage.Store, what string) (table, error) {
	ctx := cmd.Context()
	switch what {
	case "alerts":
		alerts, err := st.GetRecentAlerts(ctx, flagExportLimit)
		if err != nil {
			return table{}, err
		}
		return alertTable(alerts), nil
	case "watchlist":
		entries, err := st.GetWatchedAccounts(ctx)
		if err != nil {
			return table{}, err
		}
		t := table{header: []string{"handle", "added_at"}}
		for _, e := range entries {
			t.rows = append(t.rows, []string{e.Handle, e.AddedAt.UTC().Format(time.RFC3339)})
		}
		return t, nil
	case "cursors":
		cursors, err := st.ListCursors(ctx)
		if err != nil {
			return table{}, err
		}
		t := table{header: []string{"watch", "block", "hash", "updated_at"}}
		for _, c := range cursors {
			t.rows = append(t.rows, []string{c.SourceID, strconv.FormatUint(c.Height, 10), c.Hash, c.UpdatedAt.UTC().Format(time.RFC3339)})
		}
		return t, nil
	default:
		return table{}, fmt.Errorf("unsupported dataset %q", what)
	}
}

func alertTable(alerts []model.AlertEntry) table {
	t := table{header: []string{"id", "created_at", "handle", "name", "symbol", "contract", "tx_hash", "deployer", "family", "platform", "source"}}
	for _, a := range alerts {
		t.rows = append(t.rows, []string{
			a.ID, a.CreatedAt.UTC().Format(time.RFC3339), a.Handle, a.Name, a.Symbol,
			a.Contract, a.TxHash, a.Deployer, string(a.Family), a.Platform, a.Source,
		})
	}
	return t
}

func (t table) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func (t table) writeJSON(w io.Writer) error {
	objs := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(t.header))
		for i, col := range t.header {
			obj[col] = row[i]
		}
		objs = append(objs, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(objs)
}
