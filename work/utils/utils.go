package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the obfuscate flag.
func LogURL(obfuscate bool, rawURL string) string {
	if obfuscate {
		return ObfuscateURL(rawURL)
	}
	return rawURL
}

// ObfuscateURL masks the path, query and fragment of a URL so that tokenized
// provider URLs and credentials never end up in the logs.
//
// Example:
//
//	Input:  "http://example.com/live/user/pass/1.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func ObfuscateURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// ObfuscatePath masks everything past the first path segment, keeping just
// enough shape to correlate log lines without exposing provider credentials
// embedded in live/movie/series paths.
func ObfuscatePath(path string) string {
	if path == "" || path == "/" {
		return path
	}

	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return "/" + trimmed[:idx] + "/***"
	}
	return "/" + trimmed
}

// FormatBytes renders a byte count in a human readable unit.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
