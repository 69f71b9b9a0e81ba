package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"msgvault/internal/config"
)

// Fingerprinter derives the deduplication key for a message. It is pure and
// deterministic: no seeding, no state, stable across restarts. Group and
// sender are used verbatim; content is canonicalized per the normalization
// policy before hashing.
type Fingerprinter struct {
	algorithm string
	policy    config.NormalizationConfig
}

func NewFingerprinter(cfg config.DedupConfig) *Fingerprinter {
	return &Fingerprinter{
		algorithm: cfg.HashAlgorithm,
		policy:    cfg.Normalization,
	}
}

// Normalize applies the configured policy: trim outer whitespace, collapse
// internal whitespace runs to a single space, case-fold. Whitespace-only
// input normalizes to the empty string.
func (f *Fingerprinter) Normalize(s string) string {
	if f.policy.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if f.policy.CollapseWhitespace {
		s = collapseWhitespace(s)
	}
	if f.policy.CaseFold {
		s = strings.ToLower(s)
	}
	return s
}

func (f *Fingerprinter) Fingerprint(group, sender, content string) string {
	input := group + "|" + sender + "|" + f.Normalize(content)

	switch f.algorithm {
	case "md5":
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}

func collapseWhitespace(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	inRun := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inRun = true
			continue
		}
		if inRun && builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		inRun = false
		builder.WriteRune(r)
	}

	return builder.String()
}
