package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/me/testfleet/internal/coordinator"
	"github.com/me/testfleet/pkg/model"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
)

func checkFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatCSV:
		return nil
	}
	return fmt.Errorf("invalid output format %q (table, json, csv)", f)
}

func mode(parallel bool) string {
	if parallel {
		return "parallel"
	}
	return "sequential"
}

func writeWorkItems(w io.Writer, format string, items []model.WorkItem) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Tag", "Mode", "Ticket", "Tests"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})
	for i, it := range items {
		tw.AppendRow(table.Row{i + 1, it.Tag, mode(it.Parallel), it.Ticket, strings.Join(it.TestIDs, " ")})
	}
	tw.AppendFooter(table.Row{"", "", "", "items", len(items)})
	if format == formatCSV {
		tw.RenderCSV()
	} else {
		tw.Render()
	}
	return nil
}

func writeSummary(w io.Writer, format string, sum coordinator.Summary) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"tickets", sum.Tickets},
		{"requested tests", sum.Requested},
		{"work items", sum.Items},
		{"published", sum.Dispatch.Published},
		{"failed", sum.Dispatch.Failed},
		{"skipped items", sum.Dispatch.Skipped},
		{"unknown tests", strings.Join(sum.Unknown, " ")},
		{"skip-marked tests", strings.Join(sum.Skipped, " ")},
		{"unclassified tests", strings.Join(sum.Unclassified, " ")},
		{"interrupted", sum.Interrupted},
	})
	if format == formatCSV {
		tw.RenderCSV()
	} else {
		tw.Render()
	}
	return nil
}
