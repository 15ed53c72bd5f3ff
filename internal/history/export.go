package history

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatParquet = "parquet"
)

// FormatFromPath guesses an export format from a file extension, defaulting
// to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".parquet":
		return FormatParquet
	}
	return FormatJSON
}

// Export writes records to w in the requested format.
func Export(w io.Writer, records []Record, format string) error {
	if records == nil {
		records = []Record{}
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(records), "encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "close yaml encoder")
	case FormatParquet:
		pw := parquet.NewGenericWriter[Record](w)
		if _, err := pw.Write(records); err != nil {
			return eris.Wrap(err, "write parquet rows")
		}
		return eris.Wrap(pw.Close(), "close parquet writer")
	}
	return eris.Errorf("export: unsupported format %q", format)
}
