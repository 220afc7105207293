package dataset

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Field is a dataset column the loader understands.
type Field int

const (
	FieldLabel Field = iota
	FieldLongitude
	FieldLatitude
	FieldActual
	FieldPredicted
	fieldCount
)

func (f Field) String() string {
	switch f {
	case FieldLabel:
		return "gridLabel"
	case FieldLongitude:
		return "longitude"
	case FieldLatitude:
		return "latitude"
	case FieldActual:
		return "actual"
	case FieldPredicted:
		return "predicted"
	default:
		return "unknown"
	}
}

// aliases lists accepted header names per field, already normalised.
var aliases = map[Field][]string{
	FieldLabel:     {"gridlabel", "grid_label", "grid", "gid", "grid_100", "격자", "격자번호"},
	FieldLongitude: {"longitude", "lon", "lng", "경도"},
	FieldLatitude:  {"latitude", "lat", "위도"},
	FieldActual:    {"actual", "실제값", "실제"},
	FieldPredicted: {"predicted", "prediction", "predict", "예측값", "예측"},
}

// NormalizeHeader folds a header cell to the form used for alias matching:
// BOM and surrounding space removed, NFC composed, lower-cased.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.TrimSpace(h)
	return strings.ToLower(norm.NFC.String(h))
}

// Columns maps each Field to its position in a row; -1 means absent.
type Columns [fieldCount]int

// ResolveColumns matches a header row against the known aliases. The label
// column is optional; the other four are required.
func ResolveColumns(header []string) (Columns, error) {
	var cols Columns
	for i := range cols {
		cols[i] = -1
	}

	lookup := make(map[string]Field)
	for f, names := range aliases {
		for _, n := range names {
			lookup[norm.NFC.String(n)] = f
		}
	}

	for i, h := range header {
		f, ok := lookup[NormalizeHeader(h)]
		if !ok || cols[f] >= 0 {
			continue
		}
		cols[f] = i
	}

	var missing []string
	for _, f := range []Field{FieldLongitude, FieldLatitude, FieldActual, FieldPredicted} {
		if cols[f] < 0 {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		return cols, eris.Wrapf(ErrMalformedInput, "dataset: missing columns %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c Columns) get(row []string, f Field) string {
	i := c[f]
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
