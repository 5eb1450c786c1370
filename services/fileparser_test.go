package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"canna-directory/models"
)

func TestParseCSV(t *testing.T) {
	in := "\ufeffname,desc,,Breeder\n" +
		"Blue Dream, Relaxing hybrid ,x,DJ Short\n" +
		",,,\n" +
		"Gelato,Sweet\n"

	f, err := ParseFile("strains.csv", strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "desc", "Breeder"}, f.Headers)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, models.RawRow{"name": "Blue Dream", "desc": "Relaxing hybrid", "Breeder": "DJ Short"}, f.Rows[0])
	assert.Equal(t, models.RawRow{"name": "Gelato", "desc": "Sweet", "Breeder": ""}, f.Rows[1])
}

func TestParseXLSX(t *testing.T) {
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	require.NoError(t, x.SetSheetRow(sheet, "A1", &[]any{"Strain", "THC"}))
	require.NoError(t, x.SetSheetRow(sheet, "A2", &[]any{"Northern Lights", "18%"}))
	var buf bytes.Buffer
	require.NoError(t, x.Write(&buf))

	f, err := ParseFile("upload.XLSX", &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"Strain", "THC"}, f.Headers)
	require.Len(t, f.Rows, 1)
	assert.Equal(t, "18%", f.Rows[0]["THC"])
}

func TestParseFileRejectsUnknownType(t *testing.T) {
	_, err := ParseFile("strains.pdf", strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoData)
}
