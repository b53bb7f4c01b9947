package slug

import (
	"regexp"
	"strings"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

	// accents folds the diacritics used in French product names.
	accents = strings.NewReplacer(
		"à", "a", "â", "a", "ä", "a",
		"ç", "c",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"î", "i", "ï", "i",
		"ô", "o", "ö", "o",
		"ù", "u", "û", "u", "ü", "u",
		"ÿ", "y",
		"æ", "ae", "œ", "oe",
		"'", "", "’", "",
	)
)

// Generate derives a URL slug from a product name:
//
//   - "Bracelet Étoile" → "bracelet-etoile"
//   - "Cœur d'Or  14 carats" → "coeur-dor-14-carats"
func Generate(name string) string {
	s := accents.Replace(strings.ToLower(strings.TrimSpace(name)))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
