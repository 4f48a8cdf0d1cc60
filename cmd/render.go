package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderAggregate(w io.Writer, r domain.AggregatedResult) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%q: %d offers", r.Term, r.TotalResults))
	t.AppendHeader(table.Row{"#", "Price", "Currency", "Title", "Store", "Source", "Stock", "URL"})
	for i, o := range r.Offers {
		t.AppendRow(table.Row{i + 1, o.Price.StringFixed(0), o.Currency, o.Title, o.StoreName, o.Source, o.Stock, o.ProductURL})
	}
	if r.TotalResults > 0 {
		t.AppendFooter(table.Row{"", "min " + r.MinPrice.String(), "", "max " + r.MaxPrice.String() + " / avg " + r.AvgPrice.String()})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 4, WidthMax: 48},
	})
	t.Render()

	d := newTable(w)
	d.SetTitle(fmt.Sprintf("sources (%s)", time.Duration(r.TotalLatencyMs)*time.Millisecond))
	d.AppendHeader(table.Row{"Source", "OK", "Offers", "Latency", "Error"})
	for _, s := range r.PerSourceDiagnostics {
		d.AppendRow(table.Row{s.Source, s.Success, s.Count, strconv.FormatInt(s.LatencyMs, 10) + "ms", s.Error})
	}
	d.Render()
}

func renderReport(w io.Writer, r orchestrator.CycleReport) {
	t := newTable(w)
	t.SetTitle("cycle " + r.ID)
	t.AppendRows([]table.Row{
		{"Mode", r.Mode},
		{"Started", r.StartedAt.Format(time.RFC3339)},
		{"Duration", r.Duration.Round(time.Millisecond)},
		{"Processed", r.Processed},
		{"Succeeded", r.Succeeded},
		{"Failed", r.Failed},
		{"Persistence errors", r.PersistenceErrors},
		{"Skipped", r.Skipped},
		{"Price drops", r.PriceDrops},
		{"Cancelled", r.Cancelled},
	})
	t.Render()
}

func renderImport(w io.Writer, r catalog.ImportReport) {
	fmt.Fprintf(w, "saved %d products\n", r.Saved)
	if len(r.Errors) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Row", "Error"})
	for _, e := range r.Errors {
		t.AppendRow(table.Row{e.Row, e.Error})
	}
	t.Render()
}
