package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affinity-cli/internal/model"
)

const abl1 = "MLEICLKLVGCKSKKGLSSSSSCYLEEALQRPVASDFEPQGLSEAARWNSKENLLAGPSENDPNLFVALYDFVASGDNTLSITKGEKLRVLGYNHNGEWCEAQTKNGQGWVPSNYITPVN"

func validRaw(idx int) model.RawRow {
	return model.RawRow{
		Index:       idx,
		DrugName:    "Imatinib",
		SMILES:      "CC1=C(C=C(C=C1)NC(=O)C2=CC=C(C=C2)CN3CCN(CC3)C)NC4=NC=CC(=N4)C5=CN=CC=C5",
		ProteinName: "ABL1",
		FASTA:       abl1,
	}
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	raw := validRaw(1)
	raw.ID = "  imat-1 "
	raw.DrugName = "  Imatinib   mesylate "
	raw.FASTA = ">sp|P00519|ABL1_HUMAN\n" + strings.ToLower(abl1[:60]) + "\r\n" + abl1[60:]
	raw.Priority = "Yes"

	row, errs, warns := New(Options{}).Validate(raw)
	require.Empty(t, errs)
	assert.Empty(t, warns)
	assert.Equal(t, "imat-1", row.ID)
	assert.Equal(t, "Imatinib mesylate", row.DrugName)
	assert.Equal(t, abl1, row.FASTA)
	assert.True(t, row.Priority)
}

func TestValidate_GeneratesID(t *testing.T) {
	t.Parallel()

	row, errs, _ := New(Options{}).Validate(validRaw(7))
	require.Empty(t, errs)
	assert.Equal(t, "row-7", row.ID)
}

func TestValidate_RequiredFields(t *testing.T) {
	t.Parallel()

	raw := model.RawRow{Index: 4, SMILES: "   ", FASTA: " \n "}
	_, errs, _ := New(Options{}).Validate(raw)
	require.Len(t, errs, 4)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
		assert.Equal(t, 4, e.Row)
	}
	assert.ElementsMatch(t, []string{"drug_name", "protein_name", "smiles", "fasta"}, fields)
}

func TestValidate_SequenceRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		fasta string
		want  string
	}{
		{"digit", "MLEIC1LKLV", "digit '1'"},
		{"inner space", "MLEIC LKLV", "whitespace"},
		{"tab", "MLEIC\tLKLV", "whitespace"},
		{"punctuation", "MLEIC-LKLV", "invalid residue '-'"},
		{"stop codon", "MLEICLKLV*", "invalid residue '*'"},
		{"header only", ">sp|P00519|ABL1_HUMAN", "is required"},
		{"non-letter unicode", "MLEICLKLVé", "invalid residue"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			raw := validRaw(2)
			raw.FASTA = tc.fasta
			row, errs, _ := New(Options{}).Validate(raw)
			require.Len(t, errs, 1)
			assert.Equal(t, "fasta", errs[0].Field)
			assert.Contains(t, errs[0].Message, tc.want)
			assert.Equal(t, model.BatchRow{}, row)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()

	raw := validRaw(3)
	raw.FASTA = "MKTAYIAKQRX"
	raw.Priority = "maybe"

	row, errs, warns := New(Options{}).Validate(raw)
	require.Empty(t, errs)
	assert.False(t, row.Priority)
	require.Len(t, warns, 3)
	assert.Contains(t, warns[0].Message, "unusually short (11 residues)")
	assert.Contains(t, warns[1].Message, "ambiguous")
	assert.Equal(t, "priority", warns[2].Field)

	long := validRaw(5)
	long.FASTA = strings.Repeat("A", 40)
	_, _, warns = New(Options{MinSequenceLength: 10, MaxSequenceLength: 20}).Validate(long)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Message, "unusually long")
}

func TestNormalizeSequence_RunePositions(t *testing.T) {
	t.Parallel()

	_, msg := NormalizeSequence("MKéA1")
	assert.Equal(t, "contains invalid residue 'é' at position 3", msg)

	// Dotless i and long s must not fold into I and S.
	_, msg = NormalizeSequence("mkıa")
	assert.Equal(t, "contains invalid residue 'ı' at position 3", msg)
	_, msg = NormalizeSequence("ſMK")
	assert.Equal(t, "contains invalid residue 'ſ' at position 1", msg)

	seq, msg := NormalizeSequence("mkTa")
	assert.Empty(t, msg)
	assert.Equal(t, "MKTA", seq)
}

func TestValidateAll_ExcludesInvalidRows(t *testing.T) {
	t.Parallel()

	bad := validRaw(2)
	bad.FASTA = "MLEIC1KLVG"
	dup := validRaw(3)
	dup.ID = "a"
	first := validRaw(1)
	first.ID = "a"

	parseWarn := model.ValidationWarning{Field: "Notes", Message: "unknown column ignored"}
	out := New(Options{}).ValidateAll([]model.RawRow{first, bad, dup, validRaw(4)}, nil, []model.ValidationWarning{parseWarn})

	require.Len(t, out.Rows, 2)
	assert.Equal(t, "a", out.Rows[0].ID)
	assert.Equal(t, "row-4", out.Rows[1].ID)

	require.Len(t, out.Errors, 2)
	assert.Equal(t, 2, out.Errors[0].Row)
	assert.Contains(t, out.Errors[0].Message, "digit '1'")
	assert.Equal(t, 3, out.Errors[1].Row)
	assert.Contains(t, out.Errors[1].Message, "duplicate id")

	require.Len(t, out.Warnings, 1)
	assert.Equal(t, parseWarn, out.Warnings[0])
}

func TestValidateAll_Empty(t *testing.T) {
	t.Parallel()

	out := New(Options{}).ValidateAll(nil, nil, nil)
	assert.NotNil(t, out.Rows)
	assert.Empty(t, out.Rows)
	assert.Empty(t, out.Errors)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"1", "TRUE", " yes ", "High"} {
		p, ok := ParsePriority(s)
		assert.True(t, p, s)
		assert.True(t, ok, s)
	}
	for _, s := range []string{"", "0", "no", "normal"} {
		p, ok := ParsePriority(s)
		assert.False(t, p, s)
		assert.True(t, ok, s)
	}
	_, ok := ParsePriority("sometimes")
	assert.False(t, ok)
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	// e + combining acute composes to a single rune under NFC.
	assert.Equal(t, "caf\u00e9 kinase", NormalizeName("  cafe\u0301   kinase\t"))
	assert.Equal(t, "", NormalizeName(" \t "))
}
