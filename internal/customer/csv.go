package customer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

var csvHeader = []string{
	"Name", "Email", "Phone", "Address", "GST Number", "Tags", "Notes",
	"Total Purchases", "Total Transactions", "Last Purchase Date",
	"Active", "Created Date", "Source",
}

// ImportResult summarizes an ImportCSV run. Errors carry one message per
// rejected row, numbered by line with the header as row 1.
type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// ExportCSV writes every customer with purchase statistics to w. Export is a
// plan feature.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	if err := s.gate.Feature(ctx, subscription.FeatureExport); err != nil {
		return 0, err
	}
	rows, err := s.repo.ListWithStats(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, c := range rows {
		last := ""
		if c.LastPurchaseDate != nil {
			last = c.LastPurchaseDate.UTC().Format(time.RFC3339)
		}
		active := "No"
		if c.IsActive {
			active = "Yes"
		}
		record := []string{
			c.Name,
			c.Email,
			c.Phone,
			c.Address,
			c.GSTNumber,
			strings.Join(c.Tags, ";"),
			c.Notes,
			strconv.FormatFloat(c.TotalPurchases, 'f', 2, 64),
			strconv.Itoa(c.TotalTransactions),
			last,
			active,
			c.CreatedAt.UTC().Format(time.RFC3339),
			string(c.CreatedFrom),
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}

// ImportCSV creates or updates customers from r, matching existing rows by
// phone. Column names are matched case-insensitively and unknown columns are
// ignored. Bad rows are reported and skipped.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ImportResult{}, fmt.Errorf("empty file: %w", ErrInvalidInput)
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("read header: %v: %w", err, ErrInvalidInput)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"name", "phone"} {
		if _, ok := cols[required]; !ok {
			return ImportResult{}, fmt.Errorf("missing %q column: %w", required, ErrInvalidInput)
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
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if isBlank(record) {
			continue
		}
		in := Input{
			Name:      field("name"),
			Phone:     field("phone"),
			Email:     field("email"),
			Address:   field("address"),
			GSTNumber: field("gst number"),
			Notes:     field("notes"),
			Tags:      splitTags(field("tags")),
		}
		if raw := field("active"); raw != "" {
			active := strings.EqualFold(raw, "yes") || strings.EqualFold(raw, "true")
			in.IsActive = &active
		}
		switch {
		case in.Name == "":
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Name is required", line))
			continue
		case in.Phone == "":
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Phone is required", line))
			continue
		}
		created, err := s.upsert(ctx, in)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %s", line, rowMessage(err)))
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	s.logger.Info().Int("created", res.Created).Int("updated", res.Updated).Int("errors", len(res.Errors)).Msg("customers_imported")
	return res, nil
}

func (s *Service) upsert(ctx context.Context, in Input) (bool, error) {
	if err := in.Validate(); err != nil {
		return false, err
	}
	existing, err := s.repo.GetByPhone(ctx, in.Phone)
	switch {
	case err == nil:
		_, err = s.repo.Update(ctx, merge(existing, in, s.now().UTC()))
		return false, err
	case errors.Is(err, ErrNotFound):
		_, err = s.create(ctx, in, SourceImport)
		return err == nil, err
	default:
		return false, err
	}
}

func rowMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
