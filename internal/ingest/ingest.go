package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affinity-cli/internal/model"
)

// Format identifies a tabular input format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Column keys of the batch input contract.
const (
	ColID          = "id"
	ColDrugName    = "drug_name"
	ColSMILES      = "smiles"
	ColProteinName = "protein_name"
	ColFASTA       = "fasta"
	ColPriority    = "priority"
)

var requiredColumns = []string{ColDrugName, ColSMILES, ColProteinName, ColFASTA}

// headerAliases maps normalized header names to column keys.
var headerAliases = map[string]string{
	"id":               ColID,
	"row_id":           ColID,
	"drug_name":        ColDrugName,
	"drug":             ColDrugName,
	"compound":         ColDrugName,
	"ligand_name":      ColDrugName,
	"smiles":           ColSMILES,
	"ligand":           ColSMILES,
	"canonical_smiles": ColSMILES,
	"protein_name":     ColProteinName,
	"protein":          ColProteinName,
	"target":           ColProteinName,
	"target_name":      ColProteinName,
	"fasta":            ColFASTA,
	"sequence":         ColFASTA,
	"protein_sequence": ColFASTA,
	"seq":              ColFASTA,
	"priority":         ColPriority,
	"urgent":           ColPriority,
}

// Table is the output of reading a batch input file: raw rows plus
// parse-time errors and warnings.
type Table struct {
	Rows     []model.RawRow
	Errors   []model.ValidationError
	Warnings []model.ValidationWarning
}

// Options configures ParseFile.
type Options struct {
	Format    Format // detected from the extension when empty
	SheetName string // XLSX only
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

// ParseFile reads a CSV, TSV or XLSX file into a Table.
func ParseFile(ctx context.Context, path string, opts Options) (*Table, error) {
	format := opts.Format
	if format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	if format == FormatXLSX {
		records, err := ReadXLSX(path, XLSXOptions{SheetName: opts.SheetName})
		if err != nil {
			return nil, err
		}
		return FromRecords(records)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return ParseReader(ctx, f, format)
}

// ParseReader reads delimited input from r into a Table.
func ParseReader(ctx context.Context, r io.Reader, format Format) (*Table, error) {
	csvOpts := CSVOptions{LazyQuotes: true, Comment: '#'}
	if format == FormatTSV {
		csvOpts.Delimiter = '\t'
	}

	recCh, errCh := StreamCSV(ctx, r, csvOpts)
	var records []Record
	for rec := range recCh {
		if isBlank(rec.Fields) {
			continue
		}
		records = append(records, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse")
		}
	}
	return FromRecords(records)
}

// FromRecords maps records (header first) onto the input contract. A missing
// required column is a file-level error; an empty input yields an empty table.
// RawRow.Index is the record's line offset from the header when lines are
// known, and its position otherwise.
func FromRecords(records []Record) (*Table, error) {
	t := &Table{}
	if len(records) == 0 {
		return t, nil
	}

	cols, unknown := mapHeader(records[0].Fields)
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: missing required column(s): %s", strings.Join(missing, ", "))
	}
	for _, u := range unknown {
		t.Warnings = append(t.Warnings, model.ValidationWarning{Field: u, Message: "unknown column ignored"})
	}

	// Indexes count from the header line so skipped blank lines do not
	// shift later rows away from their position in the source.
	header := records[0]
	for i, rec := range records[1:] {
		idx := i + 1
		if rec.Line > header.Line && header.Line > 0 {
			idx = rec.Line - header.Line
		}
		if len(rec.Fields) > len(header.Fields) {
			t.Warnings = append(t.Warnings, model.ValidationWarning{
				Row:     idx,
				Message: "row has more fields than the header; extra fields ignored",
			})
		}
		t.Rows = append(t.Rows, model.RawRow{
			Index:       idx,
			ID:          field(rec.Fields, cols, ColID),
			DrugName:    field(rec.Fields, cols, ColDrugName),
			SMILES:      field(rec.Fields, cols, ColSMILES),
			ProteinName: field(rec.Fields, cols, ColProteinName),
			FASTA:       field(rec.Fields, cols, ColFASTA),
			Priority:    field(rec.Fields, cols, ColPriority),
		})
	}

	zap.L().Debug("ingest: mapped rows",
		zap.Int("rows", len(t.Rows)),
		zap.Int("warnings", len(t.Warnings)),
	)
	return t, nil
}

// mapHeader returns column key -> index, and the names of unknown columns.
// The first occurrence of a key wins.
func mapHeader(header []string) (map[string]int, []string) {
	cols := make(map[string]int, len(header))
	var unknown []string
	for i, h := range header {
		name := normalizeHeader(h)
		if name == "" {
			continue
		}
		key, ok := headerAliases[name]
		if !ok {
			unknown = append(unknown, strings.TrimSpace(h))
			continue
		}
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	return cols, unknown
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

func field(fields []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(fields) {
		return ""
	}
	return fields[i]
}
