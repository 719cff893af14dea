package file

import "strings"

// maxFilenameLength bounds what sanitizeFilename will return, long enough
// for any reasonable extension plus a descriptive stem.
const maxFilenameLength = 255

// sanitizeFilename reduces a remote file name to something safe to log and
// to join onto a local temp directory: it strips any path components and
// parent-directory references, drops control characters and newlines (log
// injection), and truncates to maxFilenameLength while preserving the file
// extension when one is present.
func sanitizeFilename(name string) string {
	if name == "" {
		return "unknown"
	}

	safe := strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(safe, "/"); idx >= 0 {
		safe = safe[idx+1:]
	}
	safe = strings.ReplaceAll(safe, "..", "")

	var b strings.Builder
	b.Grow(len(safe))
	for _, r := range safe {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	safe = b.String()

	if len(safe) > maxFilenameLength {
		if dot := strings.LastIndex(safe, "."); dot > 0 {
			ext := safe[dot+1:]
			if len(ext) > 10 {
				ext = ext[:10]
			}
			stemLen := maxFilenameLength - len(ext) - 1
			if stemLen < 0 {
				stemLen = 0
			}
			safe = safe[:stemLen] + "." + ext
		} else {
			safe = safe[:maxFilenameLength]
		}
	}

	if safe == "" {
		return "unknown"
	}
	return safe
}
