package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = `Beacon to 8.8.8.8 and 10.0.0.5 from evil.example.com;
hash d41d8cd98f00b204e9800998ecf8427e again 8.8.8.8
see https://malicious.example.org/dropper mail bad@evil.example.com`

func TestExtractSample(t *testing.T) {
	res := Extract(sampleText)

	assert.Equal(t, []string{"8.8.8.8", "10.0.0.5"}, res[KindIPv4].Matches)
	assert.Equal(t, []string{"d41d8cd98f00b204e9800998ecf8427e"}, res[KindMD5].Matches)
	assert.Equal(t, []string{"https://malicious.example.org/dropper"}, res[KindURL].Matches)
	assert.Equal(t, []string{"bad@evil.example.com"}, res[KindEmail].Matches)
	assert.Equal(t, []string{"evil.example.com", "malicious.example.org"}, res[KindDomain].Matches)
	assert.Equal(t, []string{"malicious.example.org/dropper"}, res[KindFilepath].Matches)
	assert.True(t, res[KindSHA1].Empty())
	assert.True(t, res[KindFilename].Empty(), "filename only matches a whole-text file name")
}

func TestExtractEveryKindPresent(t *testing.T) {
	res := Extract("")
	require.Len(t, res, len(Kinds()))
	for _, k := range Kinds() {
		ms, ok := res[k]
		require.True(t, ok, "kind %s missing", k)
		assert.Equal(t, k, ms.Kind)
		assert.True(t, ms.Empty())
	}
}

func TestExtractDeduplicatesInFirstOccurrenceOrder(t *testing.T) {
	res := Extract("1.1.1.1 9.9.9.9 1.1.1.1 4.4.4.4 9.9.9.9")
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9", "4.4.4.4"}, res[KindIPv4].Matches)
}

func TestExtractHashesOverlap(t *testing.T) {
	sha256 := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	res := Extract(sha256)

	assert.Equal(t, []string{sha256}, res[KindSHA256].Matches)
	// The same literal is also carved into non-overlapping shorter hashes.
	assert.Len(t, res[KindMD5].Matches, 2)
	assert.Len(t, res[KindSHA1].Matches, 1)
	assert.True(t, res[KindSHA512].Empty())
}

func TestExtractIPv6Simplified(t *testing.T) {
	full := "2001:0db8:85a3:0000:0000:8a2e:0370:7334"
	res := Extract("addr " + full + " and 2001:db8::1")
	assert.Equal(t, []string{full}, res[KindIPv6].Matches)
}

func TestExtractFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain", "report.pdf", []string{"report.pdf"}},
		{"spaces", "quarterly report.docx", []string{"quarterly report.docx"}},
		{"dotted quad lookalike", "1.2.3.45", []string{}},
		{"embedded in text", "open report.pdf now", []string{}},
		{"extension too long", "archive.tarball", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)[KindFilename].Matches
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractURLSchemes(t *testing.T) {
	res := Extract("ftp://files.example.net/a http://x.io gopher://nope.example")
	assert.Equal(t, []string{"ftp://files.example.net/a", "http://x.io"}, res[KindURL].Matches)
}

func TestExtractIsIdempotent(t *testing.T) {
	inputs := []string{sampleText, "", "report.pdf", strings.Repeat("a", 128) + " 192.168.1.1"}
	for _, in := range inputs {
		assert.Equal(t, Extract(in), Extract(in))
	}
}

func TestExtractedLiteralsRematch(t *testing.T) {
	inputs := []string{
		sampleText,
		"report.pdf",
		strings.Repeat("ab", 64) + " 2001:0db8:85a3:0000:0000:8a2e:0370:7334 /etc/passwd",
	}
	for _, in := range inputs {
		for kind, ms := range Extract(in) {
			for _, lit := range ms.Matches {
				assert.True(t, Matches(kind, lit), "%q should re-match %s", lit, kind)
			}
		}
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("sha256")
	assert.True(t, ok)
	assert.Equal(t, KindSHA256, k)

	_, ok = ParseKind("hash")
	assert.False(t, ok)
}

func TestOrderedFollowsCatalog(t *testing.T) {
	ordered := Extract(sampleText).Ordered()
	require.Len(t, ordered, len(Kinds()))
	for i, k := range Kinds() {
		assert.Equal(t, k, ordered[i].Kind)
	}
}
