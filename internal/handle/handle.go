// Package handle normalizes social handles and extracts them from loosely
// structured indexer metadata.
package handle

import (
	"regexp"
	"sort"
	"strings"
)

// MaxLength is the longest accepted handle.
const MaxLength = 50

// reservedSegment is the "/i/" path on profile-URL hosts; it never names an account.
const reservedSegment = "i"

// maxContextDepth bounds recursion into nested context objects.
const maxContextDepth = 4

var (
	validPattern = regexp.MustCompile(`^[a-z0-9_]{1,50}$`)
	urlPattern   = regexp.MustCompile(`(?i)(?:^|[^a-z0-9_\-])(?:(?:www|mobile)\.)?(?:twitter|x)\.com/(?:#!/)?@?([a-z0-9_]{1,50})`)
)

// PriorityFields are handle-shaped keys checked first, in order.
var PriorityFields = []string{
	"twitter_handle",
	"twitterHandle",
	"x_handle",
	"xHandle",
	"twitter_username",
	"twitterUsername",
	"x_username",
	"twitter",
	"x",
	"username",
	"handle",
	"creator_handle",
}

// ContextFields are nested objects that conventionally carry creator or social data.
var ContextFields = []string{
	"social_context",
	"socialContext",
	"socials",
	"social",
	"creator",
	"creator_profile",
	"creatorProfile",
	"profile",
	"requestor",
	"deployer",
	"metadata",
	"links",
}

// Normalize converts a raw handle or profile URL into canonical form: no
// leading "@", trimmed, lowercase, 1-50 of [a-z0-9_].
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if m := urlPattern.FindStringSubmatch(s); m != nil {
		if strings.EqualFold(m[1], reservedSegment) {
			return "", false
		}
		s = m[1]
	}
	s = strings.TrimLeft(s, "@")
	s = strings.ToLower(strings.TrimSpace(s))
	if !validPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// MustNormalize is Normalize for callers that only want the value; invalid input yields "".
func MustNormalize(raw string) string {
	h, _ := Normalize(raw)
	return h
}

// Extract returns the most plausible handle in record, or "" when none is found.
// Explicit handle fields win over context objects, which win over profile URLs
// embedded anywhere in the record.
func Extract(record map[string]any) string {
	if record == nil {
		return ""
	}
	if h := fromFields(record, 0); h != "" {
		return h
	}
	return scanURLs(record, 0)
}

func fromFields(record map[string]any, depth int) string {
	for _, key := range PriorityFields {
		s, ok := record[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if h, ok := Normalize(s); ok {
			return h
		}
	}
	if depth >= maxContextDepth {
		return ""
	}
	for _, key := range ContextFields {
		nested, ok := record[key].(map[string]any)
		if !ok {
			continue
		}
		if h := fromFields(nested, depth+1); h != "" {
			return h
		}
	}
	return ""
}

func scanURLs(v any, depth int) string {
	if depth > maxContextDepth+2 {
		return ""
	}
	switch val := v.(type) {
	case string:
		return handleFromText(val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if h := scanURLs(val[k], depth+1); h != "" {
				return h
			}
		}
	case []any:
		for _, item := range val {
			if h := scanURLs(item, depth+1); h != "" {
				return h
			}
		}
	}
	return ""
}

// FromText returns the first profile-URL handle embedded in free text.
func FromText(text string) string {
	return handleFromText(text)
}

func handleFromText(text string) string {
	for _, m := range urlPattern.FindAllStringSubmatch(text, -1) {
		h := strings.ToLower(m[1])
		if h == reservedSegment {
			continue
		}
		return h
	}
	return ""
}
