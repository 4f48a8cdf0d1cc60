package cmd

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
)

func TestRenderAggregate(t *testing.T) {
	var buf bytes.Buffer
	renderAggregate(&buf, domain.AggregatedResult{
		Term: "aceite castrol",
		Offers: []domain.NormalizedOffer{
			{Title: "Aceite Castrol 5W30", Price: decimal.NewFromInt(22000), Currency: "CLP", Source: "A"},
		},
		TotalResults: 1,
		MinPrice:     decimal.NewFromInt(22000),
		MaxPrice:     decimal.NewFromInt(22000),
		AvgPrice:     decimal.NewFromInt(22000),
		PerSourceDiagnostics: []domain.SourceDiagnostic{
			{Source: "A", Count: 1, Success: true, LatencyMs: 12},
			{Source: "B", Error: "timeout"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Aceite Castrol 5W30")
	assert.Contains(t, out, "22000")
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "timeout")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, orchestrator.CycleReport{ID: "c-1", Mode: orchestrator.ModeCycle, Processed: 4, PriceDrops: 1})

	assert.Contains(t, buf.String(), "cycle c-1")
	assert.Contains(t, buf.String(), "Price drops")
}

func TestRenderImport(t *testing.T) {
	var buf bytes.Buffer
	renderImport(&buf, catalog.ImportReport{Saved: 2, Errors: []catalog.ImportError{{Row: 4, Error: "part_number is required"}}})

	assert.Contains(t, buf.String(), "saved 2 products")
	assert.Contains(t, buf.String(), "part_number is required")
}
