package queue

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// defaultIdentifier is used when the page URL has no path segments
const defaultIdentifier = "video_file"

// FileNamer derives download destinations from page URLs
type FileNamer struct {
	Subfolder    string
	Extension    string
	FallbackName string
}

// Identifier returns the trailing segment of pageURL's host and escaped
// path: the last segment, or the one before it when the URL ends in a
// slash. Percent escapes are kept as written and the query is ignored.
func Identifier(pageURL string) string {
	p := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		p = u.Host + u.EscapedPath()
	}

	parts := strings.Split(p, "/")
	if n := len(parts); n > 0 && parts[n-1] != "" {
		return parts[n-1]
	} else if n > 1 && parts[n-2] != "" {
		return parts[n-2]
	}
	return defaultIdentifier
}

// Sanitize replaces every character outside [A-Za-z0-9.-] with '_'
func Sanitize(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Destination builds "<subfolder>/<sanitized-identifier>.<extension>"
func (f FileNamer) Destination(pageURL string) string {
	name := Sanitize(Identifier(pageURL))
	if name == "" {
		name = f.FallbackName
	}
	file := name
	if ext := strings.TrimPrefix(f.Extension, "."); ext != "" {
		file = name + "." + ext
	}
	if f.Subfolder == "" {
		return file
	}
	return path.Join(f.Subfolder, file)
}
