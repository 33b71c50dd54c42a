// Package auditexport writes the audit trail to an XLSX workbook for
// compliance review.
package auditexport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"healthcare-portal/internal/compliance"
	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

const sheet = "Audit Trail"

var Header = []string{
	"Timestamp",
	"Action",
	"Performed By",
	"Resource",
	"Appointment ID",
	"IP Address",
}

var columns = []string{"timestamp", "action", "performedBy", "resource", "appointmentId", "ipAddress"}

var widths = []float64{24, 28, 38, 22, 38, 14}

// Options narrows the export. Zero values export everything.
type Options struct {
	Since time.Time
	Limit int
}

// Query is the audit-log query Export runs.
func Query(opts Options) docstore.Query {
	q := docstore.Collection(model.CollectionAuditLogs)
	if !opts.Since.IsZero() {
		q = q.Where("timestamp", docstore.OpGte, opts.Since)
	}
	return q.OrderBy("timestamp", false).Limit(opts.Limit)
}

// Export writes the matching audit entries, oldest first, and returns how
// many rows were written.
func Export(ctx context.Context, docs docstore.Store, w io.Writer, opts Options) (int, error) {
	entries, err := docs.Query(ctx, Query(opts))
	if err != nil {
		return 0, fmt.Errorf("query audit logs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}

	for col, h := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return 0, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return 0, fmt.Errorf("header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return 0, fmt.Errorf("header style %s: %w", cell, err)
		}
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
			return 0, err
		}
	}

	for i, e := range entries {
		row := compliance.SanitizeForDisplay(e.Data)
		values := make([]any, len(columns))
		for j, c := range columns {
			values[j] = cellValue(row[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return 0, err
	}
	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(entries), nil
}

func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case docstore.Timestamp:
		return x.AsTime().Format(time.RFC3339)
	case string, float64, bool:
		return x
	}
	return fmt.Sprint(v)
}
