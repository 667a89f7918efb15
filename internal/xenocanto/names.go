package xenocanto

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var pathUnsafe = strings.NewReplacer("/", "_", "?", "_", "\\", "_")

// SanitizeName folds diacritics to their base letters and replaces path
// separators and query markers so the result is a single safe path element.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return pathUnsafe.Replace(folded)
}

// SpeciesDir returns the folder name used for a species, e.g. "Fringilla_coelebs".
func SpeciesDir(species string) string {
	return SanitizeName(strings.Join(strings.Fields(species), "_"))
}

// TargetPath returns where a recording is stored under root:
// <root>/<gen>_<sp>/<q>_<file-name>.
func TargetPath(root string, rec Recording) string {
	dir := SpeciesDir(rec.Gen + " " + rec.Sp)
	return filepath.Join(root, dir, SanitizeName(rec.Q+"_"+rec.FileName))
}
