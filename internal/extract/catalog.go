package extract

import "regexp"

// Kind identifies an indicator family recognised by the catalog.
type Kind string

const (
	KindMD5      Kind = "md5"
	KindSHA1     Kind = "sha1"
	KindSHA256   Kind = "sha256"
	KindSHA512   Kind = "sha512"
	KindIPv4     Kind = "ipv4"
	KindIPv6     Kind = "ipv6"
	KindEmail    Kind = "email"
	KindURL      Kind = "url"
	KindDomain   Kind = "domain"
	KindFilepath Kind = "filepath"
	KindFilename Kind = "filename"
)

// recognizer finds every literal of one kind in a text.
type recognizer struct {
	kind Kind
	re   *regexp.Regexp
	// anchored recognizers only ever match the whole input.
	anchored bool
	// reject, when set, vetoes a candidate that matched re.
	reject *regexp.Regexp
}

// catalog is fixed; order is the iteration order of Kinds and Result.Ordered.
var catalog = []recognizer{
	{kind: KindMD5, re: regexp.MustCompile(`[a-fA-F\d]{32}`)},
	{kind: KindSHA1, re: regexp.MustCompile(`[a-fA-F\d]{40}`)},
	{kind: KindSHA256, re: regexp.MustCompile(`[a-fA-F\d]{64}`)},
	{kind: KindSHA512, re: regexp.MustCompile(`[a-fA-F\d]{128}`)},
	{kind: KindIPv4, re: regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)},
	// Simplified grammar: eight full groups, no "::" compression.
	{kind: KindIPv6, re: regexp.MustCompile(`[a-fA-F\d]{4}(:[a-fA-F\d]{4}){7}`)},
	{kind: KindEmail, re: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{kind: KindURL, re: regexp.MustCompile(`(https?|ftp)://[^\s/$.?#].[^\s]*`)},
	{kind: KindDomain, re: regexp.MustCompile(`[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{kind: KindFilepath, re: regexp.MustCompile(`[a-zA-Z0-9.-]+/[a-zA-Z0-9.-]+`)},
	{
		kind:     KindFilename,
		re:       regexp.MustCompile(`^[\w\-. ]+\.[\w]{2,4}$`),
		anchored: true,
		// RE2 has no negative lookahead; things that look like a dotted quad
		// with a 2-4 digit tail are not file names.
		reject: regexp.MustCompile(`^(\d{1,3}\.){2}\d{1,3}\.\d{2,4}$`),
	},
}

// Kinds returns every indicator kind in catalog order.
func Kinds() []Kind {
	out := make([]Kind, len(catalog))
	for i, r := range catalog {
		out[i] = r.kind
	}
	return out
}

// ParseKind returns the Kind named s and whether it is part of the catalog.
func ParseKind(s string) (Kind, bool) {
	for _, r := range catalog {
		if string(r.kind) == s {
			return r.kind, true
		}
	}
	return "", false
}

func lookup(kind Kind) (recognizer, bool) {
	for _, r := range catalog {
		if r.kind == kind {
			return r, true
		}
	}
	return recognizer{}, false
}

// findAll returns every non-overlapping, leftmost-first match in text.
func (r recognizer) findAll(text string) []string {
	found := r.re.FindAllString(text, -1)
	if r.reject == nil {
		return found
	}
	kept := found[:0]
	for _, f := range found {
		if !r.reject.MatchString(f) {
			kept = append(kept, f)
		}
	}
	return kept
}
