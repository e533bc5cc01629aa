package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
)

// Options selects the outcome, treatment and covariate columns of a file.
// Column matching is case-insensitive. An empty Covariates list means
// every remaining column, in file order.
type Options struct {
	Outcome    string
	Treatment  string
	Covariates []string
	Sheet      string
}

// DefaultOptions reads columns named y and t, all others as covariates,
// from Sheet1 for xlsx files.
func DefaultOptions() Options {
	return Options{Outcome: "y", Treatment: "t", Sheet: "Sheet1"}
}

// Reader loads observational samples from Excel and CSV files.
type Reader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	opts     Options
}

// NewReader creates a reader that handles both Excel and CSV files,
// dispatching on the file extension.
func NewReader(filePath string, opts Options) *Reader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if opts.Sheet == "" {
		opts.Sheet = "Sheet1"
	}
	return &Reader{filePath: filePath, fileType: fileType, opts: opts}
}

// LoadSample reads the file and assembles a validated sample.
func (r *Reader) LoadSample(ctx context.Context) (*causal.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Printf("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.DatasetError(fmt.Sprintf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath))
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, errors.DatasetError(fmt.Sprintf("unsupported file type: %s", r.fileType))
	}
	if err != nil {
		return nil, err
	}

	if len(rows) < 2 {
		return nil, errors.DatasetError("file must have at least a header row and one data row")
	}

	return r.buildSample(rows)
}

func (r *Reader) readExcelRows() ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatasetError, errors.Wrap(err, "failed to open Excel file"))
	}
	defer f.Close()

	rows, err := f.GetRows(r.opts.Sheet)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatasetError, errors.Wrap(err, fmt.Sprintf("failed to read %s", r.opts.Sheet)))
	}
	log.Printf("[DataReader] Excel sheet read in %.2fms (%d rows)",
		float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return rows, nil
}

func (r *Reader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatasetError, errors.Wrap(err, "failed to open CSV file"))
	}
	defer file.Close()

	startTime := time.Now()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatasetError, errors.Wrap(err, "failed to read CSV file"))
	}
	log.Printf("[DataReader] CSV file read in %.2fms (%d rows)",
		float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	return rows, nil
}

// buildSample maps header names to columns and parses the numeric body.
// Data rows are reported with spreadsheet-style numbering (header is row 1).
func (r *Reader) buildSample(rows [][]string) (*causal.Sample, error) {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	outcomeCol, err := requireColumn(headers, r.opts.Outcome, "outcome")
	if err != nil {
		return nil, err
	}
	treatmentCol, err := requireColumn(headers, r.opts.Treatment, "treatment")
	if err != nil {
		return nil, err
	}

	covariateCols, covariateNames, err := r.covariateColumns(headers, outcomeCol, treatmentCol)
	if err != nil {
		return nil, err
	}

	n := len(rows) - 1
	p := len(covariateCols)
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	t := make([]int, n)

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		yv, err := parseCell(row, outcomeCol, headers[outcomeCol], i+1)
		if err != nil {
			return nil, err
		}
		y[i-1] = yv

		tv, err := parseCell(row, treatmentCol, headers[treatmentCol], i+1)
		if err != nil {
			return nil, err
		}
		if tv != 0 && tv != 1 {
			return nil, errors.DatasetError(fmt.Sprintf("treatment column %q must be 0 or 1, got %v at row %d", headers[treatmentCol], tv, i+1))
		}
		t[i-1] = int(tv)

		for j, col := range covariateCols {
			xv, err := parseCell(row, col, headers[col], i+1)
			if err != nil {
				return nil, err
			}
			x.Set(i-1, j, xv)
		}
	}

	sample, err := causal.NewSample(x, y, t)
	if err != nil {
		return nil, err
	}

	log.Printf("[DataReader] %s file processed (%d covariates %v, %d observations)",
		strings.ToUpper(r.fileType), p, covariateNames, n)

	return sample, nil
}

// covariateColumns resolves the covariate selection against the header,
// defaulting to every column that is neither outcome nor treatment.
func (r *Reader) covariateColumns(headers []string, outcomeCol, treatmentCol int) ([]int, []string, error) {
	if len(r.opts.Covariates) > 0 {
		cols := make([]int, 0, len(r.opts.Covariates))
		names := make([]string, 0, len(r.opts.Covariates))
		for _, name := range r.opts.Covariates {
			col, err := requireColumn(headers, name, "covariate")
			if err != nil {
				return nil, nil, err
			}
			if col == outcomeCol || col == treatmentCol {
				return nil, nil, errors.DatasetError(fmt.Sprintf("column %q cannot be both a covariate and the outcome or treatment", name))
			}
			cols = append(cols, col)
			names = append(names, headers[col])
		}
		return cols, names, nil
	}

	var cols []int
	var names []string
	for j, h := range headers {
		if j == outcomeCol || j == treatmentCol {
			continue
		}
		cols = append(cols, j)
		names = append(names, h)
	}
	if len(cols) == 0 {
		return nil, nil, errors.DatasetError("no covariate columns left after outcome and treatment")
	}
	return cols, names, nil
}

func requireColumn(headers []string, name, role string) (int, error) {
	if name == "" {
		return 0, errors.DatasetError(fmt.Sprintf("%s column name is empty", role))
	}
	for j, h := range headers {
		if strings.EqualFold(h, name) {
			return j, nil
		}
	}
	return 0, errors.DatasetError(fmt.Sprintf("%s column %q not found in header %v", role, name, headers))
}

func parseCell(row []string, col int, name string, fileRow int) (float64, error) {
	if col >= len(row) {
		return 0, errors.DatasetError(fmt.Sprintf("row %d is missing column %q", fileRow, name))
	}
	cell := strings.TrimSpace(row[col])
	if cell == "" {
		return 0, errors.DatasetError(fmt.Sprintf("row %d has an empty value in column %q", fileRow, name))
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, errors.DatasetError(fmt.Sprintf("row %d column %q: cannot parse %q as a number", fileRow, name, cell))
	}
	return v, nil
}
