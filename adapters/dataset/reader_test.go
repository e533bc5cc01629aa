package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gocausal/internal/errors"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSampleCSV(t *testing.T) {
	path := writeCSV(t, "x1,x2,t,y\n0.1,2.0,1,1.5\n0.2,-1.0,0,0.3\n0.3,0.5,1,1.8\n0.4,1.2,0,0.1\n")

	reader := NewReader(path, DefaultOptions())
	sample, err := reader.LoadSample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sample.N())
	assert.Equal(t, 2, sample.P())
	assert.Equal(t, []float64{1.5, 0.3, 1.8, 0.1}, sample.Y)
	assert.Equal(t, []int{1, 0, 1, 0}, sample.T)
	assert.Equal(t, 0.1, sample.X.At(0, 0))
	assert.Equal(t, -1.0, sample.X.At(1, 1))
}

func TestLoadSampleXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.xlsx")

	f := excelize.NewFile()
	defer f.Close()
	cells := [][]interface{}{
		{"x1", "x2", "t", "y"},
		{0.1, 2.0, 1, 1.5},
		{0.2, -1.0, 0, 0.3},
		{0.3, 0.5, 1, 1.8},
		{0.4, 1.2, 0, 0.1},
	}
	for i, row := range cells {
		for j, cell := range row {
			ref, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", ref, cell))
		}
	}
	require.NoError(t, f.SaveAs(path))

	reader := NewReader(path, DefaultOptions())
	sample, err := reader.LoadSample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sample.N())
	assert.Equal(t, 2, sample.P())
	assert.Equal(t, []int{1, 0, 1, 0}, sample.T)
	assert.InDelta(t, 1.5, sample.Y[0], 1e-12)
	assert.InDelta(t, 0.5, sample.X.At(2, 1), 1e-12)
}

func TestLoadSampleNamedColumns(t *testing.T) {
	path := writeCSV(t, "ID,Outcome,Age,Dose,Treated\n1,1.5,30,0.1,1\n2,0.3,40,0.2,0\n3,1.8,50,0.3,1\n4,0.1,60,0.4,0\n")

	opts := Options{Outcome: "outcome", Treatment: "treated", Covariates: []string{"age", "dose"}}
	reader := NewReader(path, opts)
	sample, err := reader.LoadSample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sample.P())
	assert.Equal(t, 30.0, sample.X.At(0, 0))
	assert.Equal(t, 0.2, sample.X.At(1, 1))
	assert.Equal(t, []int{1, 0, 1, 0}, sample.T)
}

func TestLoadSampleErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		reader := NewReader(filepath.Join(t.TempDir(), "nope.csv"), DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.CodeDatasetError, errors.GetCode(err))
	})

	t.Run("missing outcome column", func(t *testing.T) {
		path := writeCSV(t, "x1,t,resp\n1,1,2\n2,0,3\n")
		reader := NewReader(path, DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.CodeDatasetError, errors.GetCode(err))
		assert.Contains(t, err.Error(), "outcome")
	})

	t.Run("non-binary treatment", func(t *testing.T) {
		path := writeCSV(t, "x1,t,y\n1,2,2\n2,0,3\n")
		reader := NewReader(path, DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be 0 or 1")
	})

	t.Run("unparseable cell", func(t *testing.T) {
		path := writeCSV(t, "x1,t,y\nabc,1,2\n2,0,3\n")
		reader := NewReader(path, DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 2")
	})

	t.Run("header only", func(t *testing.T) {
		path := writeCSV(t, "x1,t,y\n")
		reader := NewReader(path, DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.CodeDatasetError, errors.GetCode(err))
	})

	t.Run("single-arm data rejected by sample validation", func(t *testing.T) {
		path := writeCSV(t, "x1,x2,t,y\n1,1,1,2\n2,2,1,3\n")
		reader := NewReader(path, DefaultOptions())
		_, err := reader.LoadSample(context.Background())
		require.Error(t, err)
	})
}
