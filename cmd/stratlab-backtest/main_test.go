package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	t0 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := 100 + 15*math.Sin(float64(i)/12)
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,1000\n", t0.AddDate(0, 0, i).Format("2006-01-02"), c, c+1, c-1, c)
	}
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-mode", "replay", "-strategy", "x", "-csv", "a"}, &stderr)
	assert.ErrorContains(t, err, "unknown mode")

	_, err = parseFlags([]string{"-csv", "a"}, &stderr)
	assert.ErrorContains(t, err, "-strategy")

	_, err = parseFlags([]string{"-strategy", "x"}, &stderr)
	assert.ErrorContains(t, err, "-csv")

	o, err := parseFlags([]string{"-mode", "Optimize", "-strategy", "x", "-csv", "a"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "optimize", o.mode)
	assert.EqualValues(t, -1, o.seed)
}

func TestRunBacktestWritesJSONAndReport(t *testing.T) {
	csv := writeCSV(t, 250)
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-strategy", "SMA Crossover", "-csv", csv, "-report", dir}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "SMA Crossover", out["strategy"])
	assert.Contains(t, out, "result")
	assert.Contains(t, stderr.String(), "Total return")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var html bool
	for _, e := range entries {
		html = html || strings.HasSuffix(e.Name(), ".html")
	}
	assert.True(t, html)
}

func TestRunOptimize(t *testing.T) {
	csv := writeCSV(t, 250)
	var stdout, stderr bytes.Buffer
	args := []string{"-mode", "optimize", "-strategy", "SMA Crossover", "-csv", csv, "-iterations", "3", "-top", "2", "-seed", "7"}
	require.NoError(t, run(context.Background(), args, &stdout, &stderr), stderr.String())

	var out struct {
		Result struct {
			Combinations  int   `json:"combinations"`
			TopStrategies []any `json:"top_strategies"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, 3, out.Result.Combinations)
	assert.LessOrEqual(t, len(out.Result.TopStrategies), 2)
}

func TestRunUnknownStrategy(t *testing.T) {
	csv := writeCSV(t, 100)
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-strategy", "Nope", "-csv", csv}, &stdout, &stderr)
	assert.Error(t, err)
	assert.Empty(t, stdout.String())
}
