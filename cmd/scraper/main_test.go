package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-ebooks/config"
	"github.com/aluiziolira/go-scrape-ebooks/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	err := parseFlags(newFlagSet(), []string{
		"-url", "http://example.test/s?page=1",
		"-pages", "3",
		"-delay", "2s",
		"-format", "DUAL",
		"-delimiter", `\t`,
		"-dedupe", "50",
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://example.test/s?page=1", cfg.SearchURL)
	assert.Equal(t, 3, cfg.MaxPages)
	assert.Equal(t, 2*time.Second, cfg.Delay)
	assert.Equal(t, "dual", cfg.OutputFormat)
	assert.Equal(t, '\t', cfg.Delimiter)
	assert.Equal(t, 50, cfg.DedupeMaxSize)
}

func TestParseFlagsKeepsEnvLayer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFile = "from-env.csv"
	require.NoError(t, parseFlags(newFlagSet(), nil, cfg))
	assert.Equal(t, "from-env.csv", cfg.OutputFile)
	assert.Equal(t, 0, cfg.DedupeMaxSize)
}

func TestRunReturnsErrorsInsteadOfExiting(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "bad delimiter", args: []string{"-delimiter", "ab"}},
		{name: "unsupported format", args: []string{"-format", "xml"}},
		{name: "missing selectors file", args: []string{"-selectors", "missing.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(tt.args))
		})
	}
}

func TestCreateWriterDual(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFormat = "dual"
	cfg.OutputFile = filepath.Join(t.TempDir(), "ebooks.csv")

	writer, err := createWriter(cfg, "run-1")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	dual, ok := writer.(*pipeline.DualWriter)
	require.True(t, ok)
	_, err = os.Stat(dual.JSONPath())
	assert.NoError(t, err)
}
