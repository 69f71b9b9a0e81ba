package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"msgvault/internal/config"
)

func defaultDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		HashAlgorithm: "sha256",
		Normalization: config.NormalizationConfig{
			TrimSpace:          true,
			CollapseWhitespace: true,
			CaseFold:           true,
		},
	}
}

func TestNormalize(t *testing.T) {
	fp := NewFingerprinter(defaultDedupConfig())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "already canonical",
			input: "hello",
			want:  "hello",
		},
		{
			name:  "trailing whitespace and case",
			input: "Hello ",
			want:  "hello",
		},
		{
			name:  "internal whitespace run collapses",
			input: "hello   there\tfriend",
			want:  "hello there friend",
		},
		{
			name:  "whitespace only normalizes to empty",
			input: " \t\n ",
			want:  "",
		},
		{
			name:  "empty stays empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fp.Normalize(tt.input))
		})
	}
}

func TestNormalizePolicyToggles(t *testing.T) {
	cfg := defaultDedupConfig()
	cfg.Normalization.CaseFold = false
	fp := NewFingerprinter(cfg)

	assert.Equal(t, "Hello There", fp.Normalize("  Hello   There "))

	cfg = defaultDedupConfig()
	cfg.Normalization.CollapseWhitespace = false
	fp = NewFingerprinter(cfg)

	assert.Equal(t, "hello   there", fp.Normalize(" Hello   There "))
}

func TestFingerprintEquivalentContent(t *testing.T) {
	fp := NewFingerprinter(defaultDedupConfig())

	// Differ only in whitespace and case, so they carry the same key.
	a := fp.Fingerprint("G", "A", "hello")
	b := fp.Fingerprint("G", "A", "Hello ")
	assert.Equal(t, a, b)
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	fp := NewFingerprinter(defaultDedupConfig())

	base := fp.Fingerprint("G", "A", "hello")

	assert.NotEqual(t, base, fp.Fingerprint("G2", "A", "hello"), "group must participate")
	assert.NotEqual(t, base, fp.Fingerprint("G", "B", "hello"), "sender must participate")
	assert.NotEqual(t, base, fp.Fingerprint("G", "A", "goodbye"), "content must participate")

	// Group and sender are not normalized.
	assert.NotEqual(t, base, fp.Fingerprint("g", "A", "hello"))
	assert.NotEqual(t, base, fp.Fingerprint("G", "a ", "hello"))
}

func TestFingerprintDeterministic(t *testing.T) {
	fp := NewFingerprinter(defaultDedupConfig())

	first := fp.Fingerprint("family", "alice", "dinner at 7?")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, fp.Fingerprint("family", "alice", "dinner at 7?"))
	}

	// A fresh instance with the same config produces the same key.
	other := NewFingerprinter(defaultDedupConfig())
	assert.Equal(t, first, other.Fingerprint("family", "alice", "dinner at 7?"))
}

func TestFingerprintAlgorithms(t *testing.T) {
	sha := NewFingerprinter(defaultDedupConfig())
	assert.Len(t, sha.Fingerprint("G", "A", "x"), 64)

	cfg := defaultDedupConfig()
	cfg.HashAlgorithm = "md5"
	md := NewFingerprinter(cfg)
	assert.Len(t, md.Fingerprint("G", "A", "x"), 32)

	assert.NotEqual(t, sha.Fingerprint("G", "A", "x"), md.Fingerprint("G", "A", "x"))
}
