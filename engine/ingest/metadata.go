package ingest

import (
	"path/filepath"
	"strings"
)

// MetadataFromFilename derives document metadata from names like
// "ASHRAE_62_1.pdf": organization "ASHRAE", standard_number "62.1".
// document_type is "standard" when the name mentions it, else "document".
func MetadataFromFilename(path string) map[string]any {
	filename := filepath.Base(path)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(stem, "_")

	md := map[string]any{"document_type": "document"}
	if strings.Contains(strings.ToLower(filename), "standard") {
		md["document_type"] = "standard"
	}
	if len(parts) >= 2 {
		md["organization"] = parts[0]
		if len(parts) >= 3 {
			md["standard_number"] = parts[1] + "." + parts[2]
		}
	}
	return md
}
