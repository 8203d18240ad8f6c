// Package reports renders back-office sales summaries as CSV downloads.
package reports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/chumon-app/kiosk/internal/domain"
)

const dateLayout = "2006-01-02"

// Source supplies aggregated sales rows, typically the backend client.
type Source interface {
	SalesReport(ctx context.Context, from, to time.Time) ([]domain.SalesRow, error)
}

// ExporterDeps wires the CSV exporter.
type ExporterDeps struct {
	Source Source
	Logger *zap.Logger
}

// Exporter writes sales reports as CSV. Amounts are emitted both as raw yen
// integers for spreadsheets and as grouped display strings for humans.
type Exporter struct {
	source  Source
	logger  *zap.Logger
	printer *message.Printer
}

// NewExporter constructs an exporter.
func NewExporter(deps ExporterDeps) (*Exporter, error) {
	if deps.Source == nil {
		return nil, errors.New("reports: source is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Exporter{
		source:  deps.Source,
		logger:  deps.Logger,
		printer: message.NewPrinter(language.Japanese),
	}, nil
}

// WriteCSV fetches the sales rows for [from, to] and writes them to w,
// finishing with a totals row.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, from, to time.Time) error {
	rows, err := e.source.SalesReport(ctx, from, to)
	if err != nil {
		return fmt.Errorf("reports: fetch sales: %w", err)
	}

	out := csv.NewWriter(w)
	if err := out.Write([]string{"date", "orders", "items", "gross_sales", "gross_sales_display"}); err != nil {
		return fmt.Errorf("reports: write header: %w", err)
	}

	var totalOrders, totalItems int
	var totalSales int64
	for _, row := range rows {
		record := []string{
			row.Date.Format(dateLayout),
			strconv.Itoa(row.OrderCount),
			strconv.Itoa(row.ItemCount),
			strconv.FormatInt(row.GrossSales, 10),
			e.yen(row.GrossSales),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("reports: write row: %w", err)
		}
		totalOrders += row.OrderCount
		totalItems += row.ItemCount
		totalSales += row.GrossSales
	}

	total := []string{
		"total",
		strconv.Itoa(totalOrders),
		strconv.Itoa(totalItems),
		strconv.FormatInt(totalSales, 10),
		e.yen(totalSales),
	}
	if err := out.Write(total); err != nil {
		return fmt.Errorf("reports: write totals: %w", err)
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("reports: flush: %w", err)
	}
	e.logger.Info("sales report exported",
		zap.String("from", from.Format(dateLayout)),
		zap.String("to", to.Format(dateLayout)),
		zap.Int("days", len(rows)))
	return nil
}

// Filename suggests a download name for the given range.
func Filename(from, to time.Time) string {
	return fmt.Sprintf("sales_%s_%s.csv", from.Format(dateLayout), to.Format(dateLayout))
}

func (e *Exporter) yen(v int64) string {
	return e.printer.Sprintf("¥%v", number.Decimal(v))
}
