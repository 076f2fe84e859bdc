// Package xlsx writes the human-facing access log: one spreadsheet per
// calendar day with a fixed header and color-coded decision rows.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/upic/reader/internal/upic/types"
)

const (
	SheetName       = "Лог доступа"
	TimestampLayout = "2006-01-02 15:04:05"

	grantedFill = "C6EFCE"
	deniedFill  = "FFC7CE"
)

// Header is the fixed column order of every daily log.
var Header = []string{
	"Время",
	"ID",
	"ФИО",
	"Организация",
	"Отдел",
	"Срок действия",
	"Статус доступа",
	"Причина",
}

var columnWidths = []float64{20, 15, 30, 40, 30, 15, 20, 30}

// DailyLog appends audit entries to log_YYYY-MM-DD.xlsx in Dir. Each
// append loads, extends and saves the whole workbook, so it is the slowest
// step of a scan; keep it off any per-frame path.
//
// Saves go to a temporary file renamed over the workbook, so an
// interrupted save leaves the previous version intact. A workbook that
// still cannot be opened is moved aside and the day starts a new one.
type DailyLog struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewDailyLog(dir string, logger *slog.Logger) *DailyLog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DailyLog{dir: dir, logger: logger}
}

// Path returns the workbook path for a day (YYYY-MM-DD).
func (l *DailyLog) Path(day string) string {
	return filepath.Join(l.dir, "log_"+day+".xlsx")
}

func (l *DailyLog) Append(ctx context.Context, e types.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}

	path := l.Path(e.Day())
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createWorkbook(path); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		f, err = l.replaceUnreadable(path, e.Day(), err)
		if err != nil {
			return err
		}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read rows %s: %w", path, err)
	}
	next := len(rows) + 1

	row := []any{
		e.Timestamp.Format(TimestampLayout),
		e.CredentialID,
		e.FullName,
		e.Organization,
		e.Department,
		e.ExpirationDate,
		e.Status,
		e.Reason,
	}
	first, _ := excelize.CoordinatesToCellName(1, next)
	last, _ := excelize.CoordinatesToCellName(len(row), next)
	if err := f.SetSheetRow(sheet, first, &row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	color := deniedFill
	if e.Granted {
		color = grantedFill
	}
	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("row style: %w", err)
	}
	if err := f.SetCellStyle(sheet, first, last, style); err != nil {
		return fmt.Errorf("apply row style: %w", err)
	}

	return saveAtomic(f, path)
}

// replaceUnreadable moves a workbook excelize cannot open to
// log_<day>.corrupt-<time>.xlsx and opens a fresh one in its place.
func (l *DailyLog) replaceUnreadable(path, day string, openErr error) (*excelize.File, error) {
	aside := filepath.Join(l.dir, fmt.Sprintf("log_%s.corrupt-%s.xlsx", day, time.Now().Format("20060102T150405.000")))
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("open %s: %w (move aside: %v)", path, openErr, err)
	}
	l.logger.Warn("audit workbook unreadable, starting a new one",
		"path", path, "moved_to", aside, "error", openErr)

	if err := createWorkbook(path); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// saveAtomic writes f next to path and renames it into place.
func saveAtomic(f *excelize.File, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func createWorkbook(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return fmt.Errorf("column width %s: %w", col, err)
		}
	}

	return saveAtomic(f, path)
}
