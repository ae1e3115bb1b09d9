package server

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/types"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	statisticID := r.URL.Query().Get("statistic_id")
	if statisticID == "" {
		writeJSONError(w, "statistic_id is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	meta, err := s.storage.GetSeries(ctx, statisticID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get series", slog.String("statisticID", statisticID), slog.Any("error", err))
		writeJSONError(w, "failed to get series", http.StatusInternalServerError)
		return
	}
	if meta == nil {
		writeJSONError(w, "unknown statistic ID", http.StatusNotFound)
		return
	}

	records, err := s.storage.GetRecords(ctx, statisticID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get records", slog.String("statisticID", statisticID), slog.Any("error", err))
		writeJSONError(w, "failed to get records", http.StatusInternalServerError)
		return
	}

	var body []byte
	var contentType string
	switch format {
	case "csv":
		body, err = buildCSV(records)
		contentType = "text/csv"
	case "xlsx":
		body, err = buildXLSX(*meta, records)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = buildPDF(*meta, start, end, records)
		contentType = "application/pdf"
	default:
		writeJSONError(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build export", slog.String("format", format), slog.Any("error", err))
		writeJSONError(w, "failed to build export", http.StatusInternalServerError)
		return
	}

	// colons are not valid in filenames on every OS
	filename := fmt.Sprintf("%s_%s_%s.%s",
		strings.ReplaceAll(statisticID, ":", "-"),
		start.Format("20060102"), end.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if _, err := w.Write(body); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func buildCSV(records []types.CumulativeRecord) ([]byte, error) {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, []string{"start", "sum_kwh"})
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Start.Format(time.RFC3339),
			strconv.FormatFloat(rec.Sum, 'f', -1, 64),
		})
	}

	var buf bytes.Buffer
	if err := csv.NewWriter(&buf).WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildXLSX(meta types.SeriesMetadata, records []types.CumulativeRecord) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "records"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "statistic_id")
	_ = f.SetCellValue(sheet, "B1", meta.StatisticID)
	_ = f.SetCellValue(sheet, "A2", "name")
	_ = f.SetCellValue(sheet, "B2", meta.Name)
	_ = f.SetCellValue(sheet, "A4", "start")
	_ = f.SetCellValue(sheet, "B4", "sum_kwh")
	for i, rec := range records {
		row := i + 5
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), rec.Start.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), rec.Sum)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildPDF(meta types.SeriesMetadata, start, end time.Time, records []types.CumulativeRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Meter Statistics Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Series: %s", meta.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Statistic ID: %s", meta.StatisticID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Records: %d", len(records)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Start", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, fmt.Sprintf("Sum (%s)", meta.Unit), "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, rec := range records {
		pdf.CellFormat(70, 6, rec.Start.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.3f", rec.Sum), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
