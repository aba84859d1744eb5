package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"github.com/zgpcy/azure-cost-report/internal/clock"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/report"
)

const (
	headerFill  = "0070C0"
	headerFont  = "FFFFFF"
	widthMargin = 2

	// excelize names the sheet of a new file Sheet1
	defaultSheet    = "Sheet1"
	timestampLayout = "20060102_150405"
)

// XLSXSink writes reports as .xlsx workbooks
type XLSXSink struct {
	directory string
	prefix    string
	sheet     string
	currency  string
	clock     clock.Clock
	logger    *logger.Logger
}

// NewXLSXSink creates a sink from the output section of the config
func NewXLSXSink(cfg *config.Config, log *logger.Logger) *XLSXSink {
	return &XLSXSink{
		directory: cfg.Output.Directory,
		prefix:    cfg.Output.FilePrefix,
		sheet:     cfg.Output.SheetName,
		currency:  cfg.Currency,
		clock:     clock.RealClock{},
		logger:    log,
	}
}

// WithClock replaces the time source used for file names
func (s *XLSXSink) WithClock(c clock.Clock) *XLSXSink {
	s.clock = c
	return s
}

// FileName returns <prefix>_YYYYMMDD_HHMMSS.xlsx for the current time
func (s *XLSXSink) FileName() string {
	return fmt.Sprintf("%s_%s.xlsx", s.prefix, s.clock.Now().Format(timestampLayout))
}

// Save writes the workbook into the output directory and returns its path
func (s *XLSXSink) Save(rep *report.Report) (string, error) {
	f, err := s.build(rep)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.directory, s.FileName())
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook %s: %w", path, err)
	}

	s.logger.Info("Workbook saved", "path", path, "rows", len(rep.Rows))
	return path, nil
}

// Write streams the workbook to w
func (s *XLSXSink) Write(w io.Writer, rep *report.Report) error {
	f, err := s.build(rep)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

type styles struct {
	header int
	amount int
	marker int
	text   int
}

func (s *XLSXSink) build(rep *report.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	if err := f.SetSheetName(defaultSheet, s.sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	st, err := s.newStyles(f)
	if err != nil {
		return nil, err
	}

	headers := []string{
		"Subscription Name",
		"Subscription ID",
		rep.Period.YTDHeader(),
		rep.Period.ForecastHeader(),
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		if err := s.setCell(f, i+1, 1, h, st.header); err != nil {
			return nil, err
		}
		widths[i] = utf8.RuneCountInString(h)
	}

	for r, row := range rep.Rows {
		line := r + 2
		for i, text := range []string{row.SubscriptionName, row.SubscriptionID} {
			if err := s.setCell(f, i+1, line, text, st.text); err != nil {
				return nil, err
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(text))
		}
		for i, v := range []report.Value{row.YTD, row.Forecast} {
			col := i + 3
			var err error
			if v.IsAmount() {
				err = s.setCell(f, col, line, v.Amount.InexactFloat64(), st.amount)
			} else {
				err = s.setCell(f, col, line, v.Marker, st.marker)
			}
			if err != nil {
				return nil, err
			}
			widths[col-1] = max(widths[col-1], s.displayWidth(v))
		}
	}

	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(s.sheet, name, name, float64(w+widthMargin)); err != nil {
			return nil, fmt.Errorf("failed to set width of column %s: %w", name, err)
		}
	}

	ok = true
	return f, nil
}

func (s *XLSXSink) newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error

	st.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Font:      &excelize.Font{Bold: true, Color: headerFont},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return st, fmt.Errorf("failed to create header style: %w", err)
	}

	numFmt := s.numberFormat()
	st.amount, err = f.NewStyle(&excelize.Style{
		CustomNumFmt: &numFmt,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return st, fmt.Errorf("failed to create amount style: %w", err)
	}

	st.marker, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return st, fmt.Errorf("failed to create marker style: %w", err)
	}

	st.text, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	if err != nil {
		return st, fmt.Errorf("failed to create text style: %w", err)
	}
	return st, nil
}

// numberFormat quotes the currency symbol so letters in it are not read as format codes
func (s *XLSXSink) numberFormat() string {
	if s.currency == "" {
		return "#,##0.00"
	}
	return fmt.Sprintf(`"%s" #,##0.00`, strings.ReplaceAll(s.currency, `"`, ""))
}

func (s *XLSXSink) setCell(f *excelize.File, col, row int, value any, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(s.sheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	if err := f.SetCellStyle(s.sheet, cell, cell, style); err != nil {
		return fmt.Errorf("failed to style cell %s: %w", cell, err)
	}
	return nil
}

// displayWidth is the length of the value as Excel renders it
func (s *XLSXSink) displayWidth(v report.Value) int {
	if !v.IsAmount() {
		return utf8.RuneCountInString(v.Marker)
	}
	n := utf8.RuneCountInString(groupThousands(v.Amount))
	if s.currency != "" {
		n += utf8.RuneCountInString(s.currency) + 1
	}
	return n
}

// groupThousands formats d with two decimals and comma separators
func groupThousands(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
