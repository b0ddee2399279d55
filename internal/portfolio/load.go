package portfolio

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// ErrUnknownFormat is returned by LoadPositions for anything but csv or json.
var ErrUnknownFormat = errors.New("unknown position file format")

// LoadPositions reads a book from r. CSV input needs a header row with
// Type, Strike, Expiry and Qty columns (any order, any case) and an
// optional Label column. Type follows the table convention: only "call"
// is a call. Expiry is a day count or a YYMMDD date resolved against now,
// falling back to defaultDays when unparseable. JSON input is an array of
// positions in wire form.
func LoadPositions(r io.Reader, format string, now time.Time, defaultDays float64) ([]model.Position, error) {
	var positions []model.Position
	var err error
	switch strings.ToLower(format) {
	case "csv":
		positions, err = readCSV(r, now, defaultDays)
	case "json":
		err = json.NewDecoder(r).Decode(&positions)
		if err != nil {
			err = fmt.Errorf("decode positions: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return positions, nil
}

// FormatFromPath picks csv or json from a file extension, defaulting to csv.
func FormatFromPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return "json"
	}
	return "csv"
}

func readCSV(r io.Reader, now time.Time, defaultDays float64) ([]model.Position, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"type", "strike", "expiry", "qty"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: csv header missing %q", model.ErrInvalidInput, name)
		}
	}
	labelCol, hasLabel := cols["label"]

	var out []model.Position
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if blankRow(row) {
			continue
		}
		field := func(name string) string {
			i := cols[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		strike, err := strconv.ParseFloat(field("strike"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d strike %q", model.ErrInvalidInput, line, field("strike"))
		}
		qty, err := strconv.ParseFloat(field("qty"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d qty %q", model.ErrInvalidInput, line, field("qty"))
		}
		p := model.Position{
			ContractSpec: model.ContractSpec{
				Kind:         model.ParseKindLenient(field("type")),
				Strike:       strike,
				DaysToExpiry: model.ParseExpiry(field("expiry"), now, defaultDays),
			},
			Qty: qty,
		}
		if hasLabel && labelCol < len(row) {
			p.Label = strings.TrimSpace(row[labelCol])
		}
		out = append(out, p)
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
