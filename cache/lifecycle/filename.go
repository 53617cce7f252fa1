package lifecycle

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitizeFilename reduces a client supplied filename to a safe base name:
// directory components are dropped, whitespace runs become underscores,
// other unsafe characters are removed, and surrounding dots and underscores
// are stripped so the result can never be a relative path or hidden file.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if name == PlaceholderFilename {
		// Would be indistinguishable from an empty reservation.
		name = "_" + name
	}
	return name
}
