package generator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ngirimana/finindex/internal/importer"
)

// WriteDataset writes the dataset to path as an import file. The format
// follows the extension (.csv or .xlsx).
func WriteDataset(dataset Dataset, path string) error {
	format, err := importer.FormatOf(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := Write(file, format, dataset); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// Write encodes the dataset in format.
func Write(w io.Writer, format importer.Format, dataset Dataset) error {
	return importer.WriteTable(w, format, importer.ImportHeader, dataset.Rows())
}
