package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-ebooks/models"
)

// DualWriter mirrors every batch into the delimited file and a JSONL file
// beside it.
type DualWriter struct {
	jsonPath string
	sinks    []sink
}

type sink struct {
	format string
	writer OutputWriter
}

// JSONLPath returns the JSONL companion of a delimited output path:
// "output/ebooks.csv" becomes "output/ebooks.jsonl".
func JSONLPath(csvFilename string) string {
	path := strings.TrimSuffix(csvFilename, filepath.Ext(csvFilename)) + ".jsonl"
	if path == csvFilename {
		path += ".jsonl"
	}
	return path
}

// NewDualWriter truncates csvFilename and its JSONL companion.
func NewDualWriter(csvFilename string, delimiter rune) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename, delimiter)
	if err != nil {
		return nil, err
	}

	jsonPath := JSONLPath(csvFilename)
	jsonWriter, err := NewJSONWriter(jsonPath)
	if err != nil {
		return nil, errors.Join(err, csvWriter.Close())
	}

	return &DualWriter{
		jsonPath: jsonPath,
		sinks: []sink{
			{format: "csv", writer: csvWriter},
			{format: "json", writer: jsonWriter},
		},
	}, nil
}

// JSONPath is where the JSONL copy is written.
func (dw *DualWriter) JSONPath() string {
	return dw.jsonPath
}

// Write stops at the first sink that fails so both files never diverge by
// more than one batch.
func (dw *DualWriter) Write(records []*models.ListingRecord) error {
	for _, s := range dw.sinks {
		if err := s.writer.Write(records); err != nil {
			return fmt.Errorf("%s output: %w", s.format, err)
		}
	}
	return nil
}

func (dw *DualWriter) Close() error {
	return dw.each(func(w OutputWriter) error { return w.Close() })
}

func (dw *DualWriter) Validate() error {
	return dw.each(func(w OutputWriter) error { return w.Validate() })
}

func (dw *DualWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for _, s := range dw.sinks {
		if err := fn(s.writer); err != nil {
			errs = append(errs, fmt.Errorf("%s output: %w", s.format, err))
		}
	}
	return errors.Join(errs...)
}
