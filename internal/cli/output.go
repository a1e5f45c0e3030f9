package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shaiso/apiflow/internal/domain"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// JSONMode возвращает true, если данные выводятся в JSON.
func (o *Output) JSONMode() bool {
	return o.jsonMode
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) error {
	if o.jsonMode {
		return o.JSON(jsonData)
	}
	return o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Raw пишет байты в stdout как есть.
func (o *Output) Raw(data []byte) error {
	if _, err := o.w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err := io.WriteString(o.w, "\n")
		return err
	}
	return nil
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Info выводит служебное сообщение в stderr.
func (o *Output) Info(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// Report выводит отчёт о выполнении.
//
// В табличном режиме — статус каждого узла в топологическом порядке и
// итоговый выход; в JSON — отчёт целиком.
func (o *Output) Report(report *domain.ExecutionReport) error {
	if o.jsonMode {
		return o.JSON(report)
	}

	headers := []string{"NODE", "STATUS", "DURATION_MS", "ERROR"}
	rows := make([][]string, 0, len(report.Order))
	for _, id := range report.Order {
		result := report.Results[id]
		rows = append(rows, []string{
			id,
			string(report.Statuses[id]),
			strconv.FormatInt(result.DurationMs, 10),
			result.ErrorMessage,
		})
	}
	if err := o.Table(headers, rows); err != nil {
		return err
	}

	fmt.Fprintf(o.w, "\nstatus: %s (%d ms)\n", report.OverallStatus, report.DurationMs)
	if report.Output == nil {
		return nil
	}
	fmt.Fprintln(o.w, "output:")
	return o.JSON(report.Output)
}
