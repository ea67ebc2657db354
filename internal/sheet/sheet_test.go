package sheet

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestReadCSVWithBOMAndBlankLines(t *testing.T) {
	data := "\ufeff订单号 , 商品 编码,金额\n\nA1,SKU-1,12.50\n,,\nA2,SKU-2,\"1,000\"\n"

	rows, err := ReadCSV(bytes.NewBufferString(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A1", rows[0].String("订单号"))
	assert.Equal(t, "SKU-1", rows[0].String("商品 编码"))
	assert.Equal(t, 12.5, rows[0].Number("金额"))
	assert.Equal(t, 1000.0, rows[1].Number("金额"))
}

func TestReadCSVDecodesGBK(t *testing.T) {
	utf := "订单号,商家编码\nX9,笔记本-01\n"
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(utf)
	require.NoError(t, err)

	rows, err := ReadCSV(bytes.NewBufferString(encoded))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "笔记本-01", rows[0].String("商家编码"))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheetName := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheetName, "A1", &[]any{"订单号", "结算时间", "佣金总额"}))
	require.NoError(t, f.SetSheetRow(sheetName, "A2", &[]any{"X1", "2024-11-05 10:00:00", 3.5}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	path := filepath.Join(t.TempDir(), "settlement.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	rows, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "X1", rows[0].String("订单号"))
	assert.Equal(t, 3.5, rows[0].Number("佣金总额"))
	y, m := Period(rows[0]["结算时间"])
	assert.Equal(t, 2024, y)
	assert.Equal(t, 11, m)
}

func TestReadXLSXIgnoresDisplayFormats(t *testing.T) {
	f := excelize.NewFile()
	sheetName := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheetName, "A1", &[]any{"结算时间", "商品实付/实退"}))
	require.NoError(t, f.SetCellValue(sheetName, "A2", time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellValue(sheetName, "B2", 12.345))

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	require.NoError(t, err)
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheetName, "A2", "A2", dateStyle))
	require.NoError(t, f.SetCellStyle(sheetName, "B2", "B2", moneyStyle))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	rows, err := ReadXLSX(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	y, m := Period(rows[0]["结算时间"])
	assert.Equal(t, 2024, y)
	assert.Equal(t, 11, m)
	assert.Equal(t, 12.345, rows[0].Number("商品实付/实退"))
}

func TestReadUnsupportedFormat(t *testing.T) {
	_, err := Read(bytes.NewBufferString("x"), ".pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadEmptyFile(t *testing.T) {
	_, err := ReadCSV(bytes.NewBufferString("\n\n"))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestParseTime(t *testing.T) {
	got, ok := ParseTime(45615.0)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 19, 0, 0, 0, 0, time.UTC), got)

	got, ok = ParseTime("45601.5")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC), got)

	got, ok = ParseTime("2024/3/7")
	require.True(t, ok)
	assert.Equal(t, 3, int(got.Month()))

	_, ok = ParseTime("not a date")
	assert.False(t, ok)

	y, m := Period("")
	assert.Equal(t, 0, y)
	assert.Equal(t, 0, m)
}

func TestRowHelpers(t *testing.T) {
	r := Normalize(map[string]any{" 商品  编码 ": "", "商品 编码": "SKU", "数量": 3})
	assert.Equal(t, "SKU", r.String("商品 编码"))
	assert.Equal(t, "3", r.String("数量"))
	assert.True(t, r.Has("数量"))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, "", r.String("missing"))
}
