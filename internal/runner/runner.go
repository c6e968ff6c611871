// Package runner holds helpers shared by the job runner implementations.
package runner

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// OutputDir is where a runner stores a keyword's files.
func OutputDir(savePath, keyword string) string {
	return filepath.Join(savePath, strings.ReplaceAll(strings.TrimSpace(keyword), " ", "_"))
}

// SearchURL fills {keyword} (query-escaped) and {page} in template.
func SearchURL(template, keyword string, page int) string {
	return strings.NewReplacer(
		"{keyword}", url.QueryEscape(keyword),
		"{page}", strconv.Itoa(page),
	).Replace(template)
}

// Dedupe appends the entries of add not yet in seen to dst.
func Dedupe(dst []string, seen map[string]struct{}, add ...string) []string {
	for _, s := range add {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "data:") {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
