package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const storagePrefix = "rag_documents"

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename folds name to ASCII for use inside a storage key.
// "Reporte Año 2024 (final).pdf" becomes "Reporte_Ano_2024_final_.pdf".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	safe := unsafeFilenameChars.ReplaceAllString(b.String(), "_")
	safe = repeatedUnderscores.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}

// storageKey builds rag_documents/rag_{uuid}_{safe_filename}.
func storageKey(filename string) string {
	return storagePrefix + "/rag_" + uuid.NewString() + "_" + SanitizeFilename(filename)
}
