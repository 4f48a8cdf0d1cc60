package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

// Spreadsheet columns, matched by header name in row 1.
const (
	headerName       = "name"
	headerPartNumber = "part_number"
	headerActive     = "active"
)

// ImportError reports a rejected spreadsheet row.
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Saved  int           `json:"saved"`
	Errors []ImportError `json:"errors,omitempty"`
}

// ParseProducts reads products from the first sheet of an .xlsx workbook.
// Row 1 is the header; "name" and "part_number" are required columns,
// "active" is optional and defaults to true.
func ParseProducts(r io.Reader) ([]domain.Product, []ImportError, error) {
	rows, err := openRows(r)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{headerName, headerPartNumber} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var (
		products []domain.Product
		errs     []ImportError
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		p := domain.Product{
			Name:       cell(headerName),
			PartNumber: cell(headerPartNumber),
			Active:     parseActive(cell(headerActive)),
		}
		switch {
		case p.Name == "" && p.PartNumber == "":
			continue
		case p.Name == "":
			errs = append(errs, ImportError{Row: rowNum, Error: "name is required"})
		case p.PartNumber == "":
			errs = append(errs, ImportError{Row: rowNum, Error: "part_number is required"})
		default:
			products = append(products, p)
		}
	}
	return products, errs, nil
}

// Import parses r and saves every valid product.
func Import(ctx context.Context, s Store, r io.Reader) (ImportReport, error) {
	products, rowErrs, err := ParseProducts(r)
	if err != nil {
		return ImportReport{}, err
	}

	report := ImportReport{Errors: rowErrs}
	for _, p := range products {
		if _, saveErr := s.SaveProduct(ctx, p); saveErr != nil {
			return report, saveErr
		}
		report.Saved++
	}
	return report, nil
}

func openRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return [][]string{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func parseActive(v string) bool {
	switch strings.ToLower(v) {
	case "false", "0", "no", "n":
		return false
	default:
		return true
	}
}
