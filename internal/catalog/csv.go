package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

var csvHeader = []string{"ID", "Name", "Description", "Category", "Price", "Stock", "SKU", "Unit"}

var templateHeader = csvHeader[1:]

var templateRows = [][]string{
	{"Sample Product 1", "Description for product 1", "Electronics", "99.99", "50", "SKU001", "pcs"},
	{"Sample Product 2", "Description for product 2", "Clothing", "29.99", "100", "SKU002", "pcs"},
	{"Sample Service", "Service description", "Services", "150.00", "", "SRV001", "hrs"},
}

const (
	defaultCategory = "Uncategorized"
	defaultUnit     = "pcs"
	exportPageSize  = 500
)

// ImportResult summarizes an ImportCSV run. Rows naming an item or SKU that
// already exists are skipped and counted as duplicates.
type ImportResult struct {
	Imported   int      `json:"imported"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors"`
}

// ExportCSV writes every item to w. An empty Stock cell means stock is not
// tracked. Export is a plan feature.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	if err := s.gate.Feature(ctx, subscription.FeatureExport); err != nil {
		return 0, err
	}
	items, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, it := range items {
		stock := ""
		if it.Stock != nil {
			stock = strconv.Itoa(*it.Stock)
		}
		unit := it.Unit
		if unit == "" {
			unit = defaultUnit
		}
		record := []string{
			it.ID,
			it.Name,
			it.Description,
			it.Category,
			strconv.FormatFloat(it.Price, 'f', -1, 64),
			stock,
			it.SKU,
			unit,
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(items), cw.Error()
}

// WriteTemplate writes the sample import file.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(templateHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(templateRows); err != nil {
		return err
	}
	return cw.Error()
}

// ImportCSV creates items from r. Columns are matched by header name, so
// exported files and the template both import; the ID column is ignored.
// Name and Price are required. Rows whose name (case-insensitive) or SKU is
// already in the catalog, or earlier in the file, are rejected as
// duplicates.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ImportResult{}, fmt.Errorf("no data rows found: %w", ErrInvalidInput)
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("read header: %v: %w", err, ErrInvalidInput)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"name", "price"} {
		if _, ok := cols[required]; !ok {
			return ImportResult{}, fmt.Errorf("missing %q column: %w", required, ErrInvalidInput)
		}
	}

	existing, err := s.all(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	names := make(map[string]bool, len(existing))
	skus := make(map[string]bool, len(existing))
	for _, it := range existing {
		names[strings.ToLower(it.Name)] = true
		if it.SKU != "" {
			skus[strings.ToLower(it.SKU)] = true
		}
	}

	res := ImportResult{Errors: []string{}}
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %v", line, err))
			continue
		}
		if blankRecord(record) {
			continue
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		name, rawPrice, rawStock, sku := field("name"), field("price"), field("stock"), field("sku")
		if name == "" || rawPrice == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Missing required fields (name and price are required)", line))
			continue
		}
		if names[strings.ToLower(name)] {
			res.Duplicates++
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Item '%s' already exists (duplicate name)", line, name))
			continue
		}
		if sku != "" && skus[strings.ToLower(sku)] {
			res.Duplicates++
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: SKU '%s' already exists (duplicate SKU)", line, sku))
			continue
		}
		price, err := strconv.ParseFloat(rawPrice, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Invalid price value '%s' (must be a positive number)", line, rawPrice))
			continue
		}
		in := Input{
			Name:        name,
			Price:       price,
			Category:    field("category"),
			Description: field("description"),
			Unit:        field("unit"),
			SKU:         sku,
		}
		if rawStock != "" {
			stock, err := strconv.Atoi(rawStock)
			if err != nil || stock < 0 {
				res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Invalid stock value '%s' (must be a non-negative number)", line, rawStock))
				continue
			}
			in.Stock = &stock
		}
		if in.Category == "" {
			in.Category = defaultCategory
		}
		if in.Unit == "" {
			in.Unit = defaultUnit
		}
		if _, err := s.Create(ctx, in); err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				// Plan limits stop the whole import.
				res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %s", line, appErr.Message))
				break
			}
			if !errors.Is(err, ErrInvalidInput) {
				return res, err
			}
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %v", line, err))
			continue
		}
		res.Imported++
		names[strings.ToLower(name)] = true
		if sku != "" {
			skus[strings.ToLower(sku)] = true
		}
	}
	s.logger.Info().Int("imported", res.Imported).Int("duplicates", res.Duplicates).Int("errors", len(res.Errors)).Msg("items_imported")
	return res, nil
}

// all pages through the whole catalog.
func (s *Service) all(ctx context.Context) ([]Item, error) {
	var out []Item
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.repo.List(ctx, Filter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < exportPageSize || len(out) >= total {
			return out, nil
		}
	}
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
