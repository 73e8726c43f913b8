package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

// ReadAnnotations parses a semicolon-delimited GTSRB annotation table keyed
// by image filename. Only the Filename column is required.
func ReadAnnotations(path string) (map[string]Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	header, _, _ := strings.Cut(string(data), "\n")
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("annotation table %s is empty", path)
	}
	if !hasColumn(header, "Filename") {
		return nil, fmt.Errorf("annotation table %s has no Filename column", path)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []Annotation
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse annotation table %s: %w", path, err)
	}

	annotations := make(map[string]Annotation, len(rows))
	for _, a := range rows {
		if a.Filename == "" {
			continue
		}
		annotations[a.Filename] = a
	}
	return annotations, nil
}

func hasColumn(header, name string) bool {
	for _, col := range strings.Split(strings.TrimRight(header, "\r"), ";") {
		if strings.TrimSpace(col) == name {
			return true
		}
	}
	return false
}
