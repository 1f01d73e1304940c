/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// MaskedValue replaces a secret in logs.
const MaskedValue = "***"

// DefaultSecretPrefixes are prefixes of well-known provider API keys.
var DefaultSecretPrefixes = []string{"sk-ant-", "sk-proj-", "sk-", "AIza"}

// DefaultMasks are rules for headers and parameters that carry credentials.
var DefaultMasks = []MaskingRuleConfig{
	{Field: "Authorization", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader}},
	{Field: "x-api-key", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader, FieldMaskFormatJSON}},
	{Field: "x-goog-api-key", Formats: []FieldMaskFormat{FieldMaskFormatHTTPHeader}},
	{Field: "api_key", Formats: []FieldMaskFormat{FieldMaskFormatJSON, FieldMaskFormatURLEncoded}},
	{Field: "key", Formats: []FieldMaskFormat{FieldMaskFormatURLEncoded}},
}

// StringMasker masks secrets in a string.
type StringMasker interface {
	Mask(s string) string
}

type mask struct {
	re          *regexp.Regexp
	replacement string
}

// fieldMasker masks a single named field in different formats.
type fieldMasker struct {
	field string // lowercase, used for the cheap pre-check
	masks []mask
}

func newFieldMasker(cfg MaskingRuleConfig) fieldMasker {
	fm := fieldMasker{field: strings.ToLower(cfg.Field)}
	name := regexp.QuoteMeta(cfg.Field)
	for _, format := range cfg.Formats {
		switch format {
		case FieldMaskFormatHTTPHeader:
			fm.masks = append(fm.masks, mask{
				regexp.MustCompile(`(?i)(` + name + `:\s*)[^\r\n]+`), "${1}" + MaskedValue})
		case FieldMaskFormatJSON:
			fm.masks = append(fm.masks, mask{
				regexp.MustCompile(`(?i)("` + name + `"\s*:\s*)"(?:[^"\\]|\\.)*"`), `${1}"` + MaskedValue + `"`})
		case FieldMaskFormatURLEncoded:
			fm.masks = append(fm.masks, mask{
				regexp.MustCompile(`(?i)(^|[?&\s])(` + name + `=)[^&\s]+`), "${1}${2}" + MaskedValue})
		}
	}
	return fm
}

// Masker masks credentials in strings: named fields (headers, JSON keys, query params)
// and any token that starts with a well-known API key prefix.
type Masker struct {
	fields []fieldMasker

	prefixMatcher *ahocorasick.Matcher
	prefixPattern *regexp.Regexp
}

var _ StringMasker = (*Masker)(nil)

// NewMasker creates a Masker for the given field rules and secret prefixes.
func NewMasker(rules []MaskingRuleConfig, secretPrefixes []string) *Masker {
	m := &Masker{fields: make([]fieldMasker, 0, len(rules))}
	for _, rule := range rules {
		m.fields = append(m.fields, newFieldMasker(rule))
	}
	if len(secretPrefixes) != 0 {
		prefixes := append([]string(nil), secretPrefixes...)
		// Longest first, so "sk-ant-" wins over "sk-" in the alternation.
		sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
		quoted := make([]string, len(prefixes))
		for i, p := range prefixes {
			quoted[i] = regexp.QuoteMeta(p)
		}
		m.prefixMatcher = ahocorasick.NewStringMatcher(prefixes)
		m.prefixPattern = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)[A-Za-z0-9_\-]{4,}`)
	}
	return m
}

// NewMaskerFromConfig creates a Masker from the masking configuration.
func NewMaskerFromConfig(cfg MaskingConfig) *Masker {
	rules := cfg.Rules
	if cfg.UseDefaultRules {
		rules = append(append([]MaskingRuleConfig(nil), rules...), DefaultMasks...)
	}
	return NewMasker(rules, cfg.SecretPrefixes)
}

// Mask returns s with all recognized credentials replaced.
func (m *Masker) Mask(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	for _, fm := range m.fields {
		if !strings.Contains(lower, fm.field) {
			continue
		}
		for _, rep := range fm.masks {
			s = rep.re.ReplaceAllString(s, rep.replacement)
		}
	}
	if m.prefixMatcher == nil || len(m.prefixMatcher.Match([]byte(s))) == 0 {
		return s
	}
	return m.prefixPattern.ReplaceAllString(s, "${1}"+MaskedValue)
}
