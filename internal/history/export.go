package history

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{"ID", "Subject", "Score", "Pass", "TotalTimeSec", "StudentName", "StudentID", "Provenance", "Timestamp"}

func exportRow(r Record, passThreshold int) []string {
	return []string{
		r.ID,
		r.Subject,
		fmt.Sprintf("%d", r.Score),
		fmt.Sprintf("%t", r.Score >= passThreshold),
		fmt.Sprintf("%d", r.TotalTimeSec),
		r.StudentName,
		r.StudentID,
		string(r.Provenance),
		r.Timestamp.Format(time.RFC3339),
	}
}

// ExportCSV renders the record list as a CSV download.
func ExportCSV(recs []Record, passThreshold int) ([]byte, error) {
	rows := make([][]string, 0, len(recs)+1)
	rows = append(rows, exportHeader)
	for _, r := range recs {
		rows = append(rows, exportRow(r, passThreshold))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportXLSX renders the record list as an Excel workbook.
func ExportXLSX(recs []Record, passThreshold int) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "History"
	f.SetSheetName("Sheet1", sheet)
	for col, h := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, r := range recs {
		for col, v := range exportRow(r, passThreshold) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
