// Package validate normalizes and validates batch input rows before they
// enter the scheduler.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/affinity-cli/internal/model"
)

// Options controls non-fatal warning thresholds.
type Options struct {
	MinSequenceLength int // warn below this many residues; default 30
	MaxSequenceLength int // warn above this many residues; default 5000
}

// DefaultOptions returns the default warning thresholds.
func DefaultOptions() Options {
	return Options{MinSequenceLength: 30, MaxSequenceLength: 5000}
}

// Validator checks raw rows against the batch input contract.
type Validator struct {
	opts Options
}

// New creates a Validator. Zero thresholds fall back to the defaults.
func New(opts Options) *Validator {
	def := DefaultOptions()
	if opts.MinSequenceLength <= 0 {
		opts.MinSequenceLength = def.MinSequenceLength
	}
	if opts.MaxSequenceLength <= 0 {
		opts.MaxSequenceLength = def.MaxSequenceLength
	}
	return &Validator{opts: opts}
}

// residues is the accepted one-letter alphabet: the 20 standard amino acids
// plus B, Z, X (ambiguous) and U, O (selenocysteine, pyrrolysine).
const residues = "ACDEFGHIKLMNPQRSTVWYBZXUO"

const ambiguousResidues = "BZX"

// Validate normalizes one raw row. It returns the row when there are no
// errors; warnings never block inclusion.
func (v *Validator) Validate(raw model.RawRow) (model.BatchRow, []model.ValidationError, []model.ValidationWarning) {
	var (
		errs  []model.ValidationError
		warns []model.ValidationWarning
	)
	fail := func(field, msg string) {
		errs = append(errs, model.ValidationError{Row: raw.Index, Field: field, Message: msg})
	}
	warn := func(field, msg string) {
		warns = append(warns, model.ValidationWarning{Row: raw.Index, Field: field, Message: msg})
	}

	row := model.BatchRow{
		ID:          strings.TrimSpace(raw.ID),
		DrugName:    NormalizeName(raw.DrugName),
		SMILES:      strings.TrimSpace(raw.SMILES),
		ProteinName: NormalizeName(raw.ProteinName),
	}
	if row.ID == "" {
		row.ID = "row-" + strconv.Itoa(raw.Index)
	}

	if row.DrugName == "" {
		fail("drug_name", "is required")
	}
	if row.ProteinName == "" {
		fail("protein_name", "is required")
	}
	if row.SMILES == "" {
		fail("smiles", "is required")
	}

	seq, seqErr := NormalizeSequence(raw.FASTA)
	if seqErr != "" {
		fail("fasta", seqErr)
	} else {
		row.FASTA = seq
		switch {
		case len(seq) < v.opts.MinSequenceLength:
			warn("fasta", fmt.Sprintf("sequence is unusually short (%d residues)", len(seq)))
		case len(seq) > v.opts.MaxSequenceLength:
			warn("fasta", fmt.Sprintf("sequence is unusually long (%d residues)", len(seq)))
		}
		if strings.ContainsAny(seq, ambiguousResidues) {
			warn("fasta", "sequence contains ambiguous residue codes (B, Z or X)")
		}
	}

	priority, ok := ParsePriority(raw.Priority)
	if !ok {
		warn("priority", fmt.Sprintf("unrecognised value %q treated as normal priority", strings.TrimSpace(raw.Priority)))
	}
	row.Priority = priority

	if len(errs) > 0 {
		return model.BatchRow{}, errs, warns
	}
	return row, nil, warns
}

// ValidateAll validates every raw row, merging in parse-time errors and
// warnings. Rows with any error are excluded from Rows but their errors are
// kept. Later rows reusing an id are rejected.
func (v *Validator) ValidateAll(raws []model.RawRow, parseErrs []model.ValidationError, parseWarns []model.ValidationWarning) model.ParsedBatchData {
	out := model.ParsedBatchData{
		Rows:     []model.BatchRow{},
		Errors:   append([]model.ValidationError{}, parseErrs...),
		Warnings: append([]model.ValidationWarning{}, parseWarns...),
	}

	seen := make(map[string]int, len(raws))
	for _, raw := range raws {
		row, errs, warns := v.Validate(raw)
		out.Warnings = append(out.Warnings, warns...)
		if len(errs) > 0 {
			out.Errors = append(out.Errors, errs...)
			continue
		}
		if first, dup := seen[row.ID]; dup {
			out.Errors = append(out.Errors, model.ValidationError{
				Row:     raw.Index,
				Field:   "id",
				Message: fmt.Sprintf("duplicate id %q (first used on row %d)", row.ID, first),
			})
			continue
		}
		seen[row.ID] = raw.Index
		out.Rows = append(out.Rows, row)
	}
	return out
}

// NormalizeName trims, NFC-normalizes and collapses inner whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// NormalizeSequence strips an optional leading FASTA header line and
// line wrapping, then uppercases the residues. It returns a non-empty
// message when the sequence is empty or contains anything but residue codes.
func NormalizeSequence(fasta string) (string, string) {
	s := strings.TrimSpace(fasta)
	if strings.HasPrefix(s, ">") {
		if nl := strings.IndexAny(s, "\r\n"); nl >= 0 {
			s = s[nl:]
		} else {
			s = ""
		}
	}
	s = strings.NewReplacer("\r", "", "\n", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return "", "is required"
	}

	// Only ASCII letters are folded: strings.ToUpper would turn letters
	// such as 'ı' or 'ſ' into residue codes.
	var out strings.Builder
	out.Grow(len(s))
	pos := 0 // 1-based rune position
	for _, r := range s {
		pos++
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if strings.ContainsRune(residues, r) {
			out.WriteRune(r)
			continue
		}
		switch {
		case r >= '0' && r <= '9':
			return "", fmt.Sprintf("contains digit %q at position %d", r, pos)
		case r == ' ' || r == '\t':
			return "", fmt.Sprintf("contains whitespace at position %d", pos)
		default:
			return "", fmt.Sprintf("contains invalid residue %q at position %d", r, pos)
		}
	}
	return out.String(), ""
}

// ParsePriority interprets the optional priority column. Blank is false.
// The second result is false for values that are not recognised.
func ParsePriority(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return false, true
	case "1", "true", "t", "yes", "y", "high", "urgent":
		return true, true
	case "0", "false", "f", "no", "n", "low", "normal":
		return false, true
	default:
		return false, false
	}
}
