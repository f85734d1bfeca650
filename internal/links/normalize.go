// Package links canonicalizes URLs and maintains per-tenant share aggregates.
package links

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// urlPattern matches http(s) URLs in message text, stopping at whitespace
// and common CJK punctuation that chat clients glue onto pasted links.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]，。！？、；：）》」』】]+`)

// Fixed tracker keys removed during normalization, in addition to any
// parameter prefixed "utm_".
var trackerKeys = map[string]bool{
	"fbclid":      true,
	"gclid":       true,
	"igshid":      true,
	"mc_cid":      true,
	"mc_eid":      true,
	"ref":         true,
	"ref_src":     true,
	"si":          true,
	"spm":         true,
	"_hsenc":      true,
	"_hsmi":       true,
	"vero_id":     true,
	"yclid":       true,
	"share_token": true,
}

// Extract returns all URLs found in text, in order of appearance.
func Extract(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}

// Normalize canonicalizes a raw URL and returns the canonical form plus a
// stable hash over it. URLs differing only in tracking parameters, default
// ports, case of scheme/host, or a trailing slash normalize to the same hash.
func Normalize(raw string) (canonical string, hash string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(strings.ToLower(u.Host), ":443")
	}
	u.Fragment = ""
	u.User = nil

	// Drop trackers, keep the rest in sorted order so parameter order
	// never changes the hash.
	q := u.Query()
	kept := url.Values{}
	for key, vals := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackerKeys[lk] {
			continue
		}
		kept[key] = vals
	}
	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		for _, v := range kept[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = sb.String()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	} else {
		u.Path = ""
	}

	canonical = u.String()
	sum := sha256.Sum256([]byte(canonical))
	return canonical, hex.EncodeToString(sum[:16]), nil
}
