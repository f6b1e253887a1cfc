// Package extract recognises indicators of compromise in free-form text.
package extract

// MatchSet holds the distinct literals of one kind, in first-occurrence order.
type MatchSet struct {
	Kind    Kind     `json:"type"`
	Matches []string `json:"matches"`
}

// Empty reports whether the set has no literals.
func (m MatchSet) Empty() bool { return len(m.Matches) == 0 }

// Result maps every catalog kind to its MatchSet. Kinds without matches map
// to an empty set.
type Result map[Kind]MatchSet

// Ordered returns the match sets in catalog order.
func (r Result) Ordered() []MatchSet {
	out := make([]MatchSet, 0, len(catalog))
	for _, rec := range catalog {
		if ms, ok := r[rec.kind]; ok {
			out = append(out, ms)
		}
	}
	return out
}

// Count returns the number of literals across all kinds.
func (r Result) Count() int {
	n := 0
	for _, ms := range r {
		n += len(ms.Matches)
	}
	return n
}

// Extract applies every recognizer in the catalog to text. It never fails.
func Extract(text string) Result {
	out := make(Result, len(catalog))
	for _, rec := range catalog {
		out[rec.kind] = MatchSet{Kind: rec.kind, Matches: dedupe(rec.findAll(text))}
	}
	return out
}

// Matches reports whether literal, tested on its own, is recognised as kind.
func Matches(kind Kind, literal string) bool {
	rec, ok := lookup(kind)
	if !ok {
		return false
	}
	if rec.anchored {
		return len(rec.findAll(literal)) > 0
	}
	return rec.re.MatchString(literal)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
