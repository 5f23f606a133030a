// Package platform implements the site-specific parsers. Each parser
// registers a descriptor with the resolver registry; RegisterAll wires the
// canonical set in dispatch order.
package platform

import "strconv"

// User agents the origin sites expect. Several platforms only serve the
// parseable mobile/share markup to mobile browsers.
const (
	iphoneSafariUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1"

	androidChromeUA = "Mozilla/5.0 (Linux; Android 8.0.0; SM-G955U Build/R16NW) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36"

	desktopChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// cloneHeaders copies base so per-record header maps never alias parser
// state.
func cloneHeaders(base map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}

// parseEpoch reads a unix timestamp in seconds or milliseconds.
func parseEpoch(s string) int64 {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	if len(s) == 13 {
		ts /= 1000
	}
	return ts
}

// dedupe keeps first occurrences, preserving order.
func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
