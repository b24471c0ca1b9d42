package transcript

import "strings"

// DefaultSeparator is the turn separator stripped by [Normalize].
const DefaultSeparator = " \n "

// Normalize cleans text with [DefaultSeparator]. See [NormalizeSep].
func Normalize(text string) string {
	return NormalizeSep(text, DefaultSeparator)
}

// NormalizeSep cleans whitespace and punctuation in text before it is
// embedded or displayed. The steps run in this order:
//
//  1. Collapse whitespace runs to one space and trim.
//  2. Drop the space before a comma.
//  3. Replace ".." and ". ." with "." until neither remains.
//  4. Replace sep with a space, then collapse and trim again.
func NormalizeSep(text, sep string) string {
	s := collapseSpace(text)
	s = strings.ReplaceAll(s, " ,", ",")
	for strings.Contains(s, "..") || strings.Contains(s, ". .") {
		s = strings.ReplaceAll(s, "..", ".")
		s = strings.ReplaceAll(s, ". .", ".")
	}
	if sep != "" {
		s = strings.ReplaceAll(s, sep, " ")
	}
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
