package history

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"locoinspect/models"

	"github.com/xuri/excelize/v2"
)

// ErrNothingToExport is returned when the filtered list is empty.
var ErrNothingToExport = errors.New("no inspections match the current filters")

// Format is an export file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv, html and xlsx. An empty value means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType is the MIME type of the rendered file.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName is the download name for an export generated at now.
func (f Format) FileName(now time.Time) string {
	ms := now.UnixMilli()
	switch f {
	case FormatHTML:
		return fmt.Sprintf("Loco_Filtered_Report_%d.html", ms)
	case FormatXLSX:
		return fmt.Sprintf("Loco_Filtered_Data_%d.xlsx", ms)
	}
	return fmt.Sprintf("Loco_Filtered_Data_%d.csv", ms)
}

// Columns is the header row shared by the tabular exports.
var Columns = []string{"Loco Number", "Base Shed", "Schedule", "Pantograph", "Timestamp", "Inspected By", "Sync Status", "Reference ID"}

func row(inspection models.Inspection, users []models.User) []string {
	return []string{
		inspection.LocoNumber,
		inspection.BaseShed,
		inspection.Schedule,
		inspection.PantographNumber,
		inspection.Timestamp,
		InspectorName(users, inspection.UserID),
		string(inspection.SyncStatus),
		inspection.ID,
	}
}

// Export is one rendering request.
type Export struct {
	Inspections []models.Inspection
	Users       []models.User
	Filter      Filter
	AppName     string
	GeneratedAt time.Time
}

// Write renders e in format to w.
func (e Export) Write(w io.Writer, format Format) error {
	switch format {
	case FormatHTML:
		return WriteHTML(w, e)
	case FormatXLSX:
		return WriteXLSX(w, e.Inspections, e.Users)
	}
	return WriteCSV(w, e.Inspections, e.Users)
}

// WriteCSV writes the header and one line per inspection. Every data field is quoted.
func WriteCSV(w io.Writer, inspections []models.Inspection, users []models.User) error {
	if len(inspections) == 0 {
		return ErrNothingToExport
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(Columns, ","))
	for _, inspection := range inspections {
		bw.WriteByte('\n')
		for i, field := range row(inspection, users) {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(field, `"`, `""`))
			bw.WriteByte('"')
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

//go:embed report.html.tmpl
var reportSource string

var reportTemplate = template.Must(template.New("report").Parse(reportSource))

type reportRow struct {
	models.Inspection
	Inspector string
	Photo     template.URL
}

type reportData struct {
	AppName     string
	GeneratedAt string
	Filter      Filter
	Count       int
	Rows        []reportRow
}

// WriteHTML renders a standalone printable report with one photo per record.
func WriteHTML(w io.Writer, e Export) error {
	if len(e.Inspections) == 0 {
		return ErrNothingToExport
	}

	data := reportData{
		AppName:     e.AppName,
		GeneratedAt: e.GeneratedAt.Format(models.TimestampLayout),
		Filter:      e.Filter,
		Count:       len(e.Inspections),
		Rows:        make([]reportRow, 0, len(e.Inspections)),
	}
	for _, inspection := range e.Inspections {
		data.Rows = append(data.Rows, reportRow{
			Inspection: inspection,
			Inspector:  InspectorName(e.Users, inspection.UserID),
			Photo:      photoURL(inspection.PhotoURL),
		})
	}

	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// photoURL lets stored http(s) and inline image URLs through the template's URL filter.
func photoURL(s string) template.URL {
	rooted := strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//")
	if rooted || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "data:image/") {
		return template.URL(s)
	}
	return template.URL("about:invalid")
}

const sheetName = "Inspections"

// WriteXLSX writes the CSV columns into a single styled sheet.
func WriteXLSX(w io.Writer, inspections []models.Inspection, users []models.User) error {
	if len(inspections) == 0 {
		return ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#312E81"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	columnWidths := []float64{14, 12, 10, 12, 22, 28, 12, 38}
	for i, header := range Columns {
		if err := setCell(f, i+1, 1, header); err != nil {
			return err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetCellStyle(sheetName, "A1", "H1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for r, inspection := range inspections {
		for c, value := range row(inspection, users) {
			if err := setCell(f, c+1, r+2, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func setCell(f *excelize.File, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStr(sheetName, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
