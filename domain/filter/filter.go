// Package filter implements the filter compiler (C5): it validates a user
// supplied filter object against a fixed whitelist and translates it into a
// store-native query expression, shared identically by the doc and step
// tiers.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	"github.com/dmason-mlb/mlb-qbench/domain/repository"
)

const (
	maxStringLen = 256
	maxSetSize   = 64
)

// fieldKind distinguishes how a whitelisted field's value is validated.
type fieldKind int

const (
	kindStringSet fieldKind = iota
	kindString
	kindStringSequence
	kindGlob
)

var whitelist = map[string]fieldKind{
	"tags":                 kindStringSet,
	"platforms":            kindStringSet,
	"priority":             kindString,
	"test_type":            kindString,
	"folder_prefix":        kindStringSequence,
	"related_keys":         kindStringSet,
	"external_key_pattern": kindGlob,
}

var controlChar = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// Filter is the compiled, validated representation of a raw filter object.
type Filter struct {
	Tags                []string
	Platforms           []string
	Priority            string
	TestType            string
	FolderPrefix        []string
	RelatedKeys         []string
	ExternalKeyPattern  string
}

// Compile validates raw against the whitelist and returns both the
// compiled Filter (for denormalised in-memory matching, e.g. against step
// records) and the equivalent repository.Option expressions for store
// push-down. Any violation returns a *qerr.Error of KindInvalidInput with
// one Fields entry per offending field.
func Compile(raw map[string]any) (Filter, []repository.Option, error) {
	var f Filter
	var opts []repository.Option
	err := qerr.InvalidInput("filter validation failed")
	hasErr := false

	for key := range raw {
		if _, ok := whitelist[key]; !ok {
			err.WithField(key, "unknown filter field")
			hasErr = true
		}
	}

	if v, ok := raw["tags"]; ok {
		if s, fieldErr := asStringSet(v); fieldErr != "" {
			err.WithField("tags", fieldErr)
			hasErr = true
		} else {
			f.Tags = s
			opts = append(opts, repository.WithCondition("tags_superset", s))
		}
	}

	if v, ok := raw["platforms"]; ok {
		if s, fieldErr := asStringSet(v); fieldErr != "" {
			err.WithField("platforms", fieldErr)
			hasErr = true
		} else {
			f.Platforms = s
			opts = append(opts, repository.WithCondition("platforms_superset", s))
		}
	}

	if v, ok := raw["priority"]; ok {
		if s, fieldErr := asString(v); fieldErr != "" {
			err.WithField("priority", fieldErr)
			hasErr = true
		} else {
			f.Priority = s
			opts = append(opts, repository.WithCondition("priority", s))
		}
	}

	if v, ok := raw["test_type"]; ok {
		if s, fieldErr := asString(v); fieldErr != "" {
			err.WithField("test_type", fieldErr)
			hasErr = true
		} else {
			f.TestType = s
			opts = append(opts, repository.WithCondition("test_type", s))
		}
	}

	if v, ok := raw["folder_prefix"]; ok {
		if s, fieldErr := asStringSequence(v); fieldErr != "" {
			err.WithField("folder_prefix", fieldErr)
			hasErr = true
		} else {
			f.FolderPrefix = s
			opts = append(opts, repository.WithCondition("folder_path_prefix", s))
		}
	}

	if v, ok := raw["related_keys"]; ok {
		if s, fieldErr := asStringSet(v); fieldErr != "" {
			err.WithField("related_keys", fieldErr)
			hasErr = true
		} else {
			f.RelatedKeys = s
			opts = append(opts, repository.WithCondition("related_keys_intersects", s))
		}
	}

	if v, ok := raw["external_key_pattern"]; ok {
		s, fieldErr := asString(v)
		if fieldErr == "" {
			fieldErr = validateGlob(s)
		}
		if fieldErr != "" {
			err.WithField("external_key_pattern", fieldErr)
			hasErr = true
		} else {
			f.ExternalKeyPattern = s
			opts = append(opts, repository.WithCondition("external_key_like", globToLike(s)))
		}
	}

	if hasErr {
		return Filter{}, nil, err
	}
	return f, opts, nil
}

// IsEmpty reports whether no filter field was set.
func (f Filter) IsEmpty() bool {
	return len(f.Tags) == 0 && len(f.Platforms) == 0 && f.Priority == "" &&
		f.TestType == "" && len(f.FolderPrefix) == 0 && len(f.RelatedKeys) == 0 &&
		f.ExternalKeyPattern == ""
}

// Matches reports whether a document's denormalised fields satisfy the
// filter. Used for in-memory re-checking of step-tier hits whose payload
// was denormalised from the parent at index time.
func (f Filter) Matches(tags, platforms, relatedKeys, folderPath []string, priority, testType, externalKey string) bool {
	if len(f.Tags) > 0 && !supersetOf(tags, f.Tags) {
		return false
	}
	if len(f.Platforms) > 0 && !supersetOf(platforms, f.Platforms) {
		return false
	}
	if f.Priority != "" && f.Priority != priority {
		return false
	}
	if f.TestType != "" && f.TestType != testType {
		return false
	}
	if len(f.FolderPrefix) > 0 && !hasPrefix(folderPath, f.FolderPrefix) {
		return false
	}
	if len(f.RelatedKeys) > 0 && !intersects(relatedKeys, f.RelatedKeys) {
		return false
	}
	if f.ExternalKeyPattern != "" {
		matched, _ := regexp.MatchString("^"+globToRegex(f.ExternalKeyPattern)+"$", externalKey)
		if !matched {
			return false
		}
	}
	return true
}

func asString(v any) (string, string) {
	s, ok := v.(string)
	if !ok {
		return "", "must be a string"
	}
	if s == "" {
		return "", "must not be empty"
	}
	if len(s) > maxStringLen {
		return "", fmt.Sprintf("exceeds max length %d", maxStringLen)
	}
	if controlChar.MatchString(s) {
		return "", "contains control characters"
	}
	return s, ""
}

func asStringSet(v any) ([]string, string) {
	items, fieldErr := asAnySlice(v)
	if fieldErr != "" {
		return nil, fieldErr
	}
	if len(items) > maxSetSize {
		return nil, fmt.Sprintf("exceeds max set size %d", maxSetSize)
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		s, itemErr := asString(item)
		if itemErr != "" {
			return nil, itemErr
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, ""
}

func asStringSequence(v any) ([]string, string) {
	items, fieldErr := asAnySlice(v)
	if fieldErr != "" {
		return nil, fieldErr
	}
	if len(items) > maxSetSize {
		return nil, fmt.Sprintf("exceeds max sequence length %d", maxSetSize)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, itemErr := asString(item)
		if itemErr != "" {
			return nil, itemErr
		}
		out = append(out, s)
	}
	return out, ""
}

func asAnySlice(v any) ([]any, string) {
	switch s := v.(type) {
	case []any:
		return s, ""
	case []string:
		out := make([]any, len(s))
		for i, v := range s {
			out[i] = v
		}
		return out, ""
	default:
		return nil, "must be an array"
	}
}

// validateGlob restricts the glob language to '*' and '?' only, anchored.
func validateGlob(pattern string) string {
	for _, r := range pattern {
		if r == '*' || r == '?' {
			continue
		}
		if isGlobMeta(r) {
			return "only '*' and '?' wildcards are permitted"
		}
	}
	return ""
}

func isGlobMeta(r rune) bool {
	return strings.ContainsRune(`[]{}()^$+|\`, r)
}

// globToRegex converts a restricted glob ('*', '?' only) to a regex body.
func globToRegex(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// globToLike converts the restricted glob to a SQL LIKE pattern ('%', '_').
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func supersetOf(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, v := range want {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func intersects(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, v := range want {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}
