package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func collectRecords(t *testing.T, recCh <-chan Record, errCh <-chan error) ([]Record, error) {
	t.Helper()
	var recs []Record
	for r := range recCh {
		recs = append(recs, r)
	}
	for err := range errCh {
		if err != nil {
			return recs, err
		}
	}
	return recs, nil
}

func TestStreamCSV_LineNumbers(t *testing.T) {
	input := "id,drug_name\n1,\"multi\nline\"\n2,aspirin\n"
	recCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	recs, err := collectRecords(t, recCh, errCh)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 1, recs[0].Line)
	assert.Equal(t, 2, recs[1].Line)
	assert.Equal(t, "multi\nline", recs[1].Fields[1])
	assert.Equal(t, 4, recs[2].Line)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	for range recCh {
	}
	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "context cancelled")
}

func TestParseReader_MapsAliases(t *testing.T) {
	input := strings.Join([]string{
		"Row ID,Compound,Canonical SMILES,Target,Protein Sequence,Urgent,Notes",
		"a1,Imatinib,CC1=CC=CC=C1,ABL1,MLEICLKLVG,yes,first",
		"",
		"a2,Gefitinib,COC1=C,EGFR,MRPSGTAGAA,,second",
	}, "\n")

	tbl, err := ParseReader(context.Background(), strings.NewReader(input), FormatCSV)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)

	assert.Equal(t, 1, tbl.Rows[0].Index)
	assert.Equal(t, "a1", tbl.Rows[0].ID)
	assert.Equal(t, "Imatinib", tbl.Rows[0].DrugName)
	assert.Equal(t, "CC1=CC=CC=C1", tbl.Rows[0].SMILES)
	assert.Equal(t, "ABL1", tbl.Rows[0].ProteinName)
	assert.Equal(t, "MLEICLKLVG", tbl.Rows[0].FASTA)
	assert.Equal(t, "yes", tbl.Rows[0].Priority)
	assert.Equal(t, 3, tbl.Rows[1].Index, "blank line still counts")
	assert.Equal(t, "", tbl.Rows[1].Priority)

	require.Len(t, tbl.Warnings, 1)
	assert.Equal(t, "Notes", tbl.Warnings[0].Field)
}

func TestParseReader_TSV(t *testing.T) {
	input := "drug_name\tsmiles\tprotein_name\tfasta\nAspirin\tCC(=O)O\tCOX1\tMSRSLL\n"
	tbl, err := ParseReader(context.Background(), strings.NewReader(input), FormatTSV)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "COX1", tbl.Rows[0].ProteinName)
	assert.Empty(t, tbl.Rows[0].ID)
}

func TestParseReader_MissingColumns(t *testing.T) {
	input := "drug_name,smiles\nAspirin,CC\n"
	_, err := ParseReader(context.Background(), strings.NewReader(input), FormatCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protein_name")
	assert.Contains(t, err.Error(), "fasta")
}

func TestParseReader_Empty(t *testing.T) {
	tbl, err := ParseReader(context.Background(), strings.NewReader(""), FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, tbl.Rows)
}

func TestParseReader_ShortAndLongRows(t *testing.T) {
	input := "drug_name,smiles,protein_name,fasta\nAspirin,CC\nIbuprofen,CC,COX2,MKT,extra\n"
	tbl, err := ParseReader(context.Background(), strings.NewReader(input), FormatCSV)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "", tbl.Rows[0].FASTA)
	require.Len(t, tbl.Warnings, 1)
	assert.Equal(t, 2, tbl.Warnings[0].Row)
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"in.csv":   FormatCSV,
		"IN.TSV":   FormatTSV,
		"x.tab":    FormatTSV,
		"b.xlsx":   FormatXLSX,
		"rows.txt": FormatCSV,
	}
	for path, want := range cases {
		got, err := DetectFormat(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := DetectFormat("data.json")
	assert.Error(t, err)
}

func TestParseFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	content := "drug_name,smiles,protein_name,fasta,priority\nAspirin,CC(=O)O,COX1,MSRSLL,true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tbl, err := ParseFile(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "true", tbl.Rows[0].Priority)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: open")
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Batch")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParseFile_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"id", "drug_name", "smiles", "protein_name", "fasta"},
		{"x1", "Aspirin", "CC(=O)O", "COX1", "MSRSLL"},
		{"", "", "", "", ""},
		{"x2", "Ibuprofen", "CC(C)C", "COX2", "MLARAL"},
	})

	tbl, err := ParseFile(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "x1", tbl.Rows[0].ID)
	assert.Equal(t, "x2", tbl.Rows[1].ID)
	assert.Equal(t, "COX2", tbl.Rows[1].ProteinName)
	assert.Equal(t, 1, tbl.Rows[0].Index)
	assert.Equal(t, 3, tbl.Rows[1].Index)
}

func TestParseReader_IndexesFollowSourceAfterBlankRows(t *testing.T) {
	input := strings.Join([]string{
		"drug_name,smiles,protein_name,fasta",
		"Aspirin,CC,COX1,MSRSLL",
		",,,",
		"  ,\t,,",
		"Ibuprofen,CCC,COX2,MKT1",
	}, "\n")

	tbl, err := ParseReader(context.Background(), strings.NewReader(input), FormatCSV)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, 1, tbl.Rows[0].Index)
	assert.Equal(t, 4, tbl.Rows[1].Index)
}

func TestFromRecords_WithoutLines(t *testing.T) {
	tbl, err := FromRecords([]Record{
		{Fields: []string{"drug_name", "smiles", "protein_name", "fasta"}},
		{Fields: []string{"A", "C", "P", "M"}},
		{Fields: []string{"B", "C", "P", "M"}},
	})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, 2, tbl.Rows[1].Index)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"a"}})
	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
