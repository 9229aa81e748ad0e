package transcript

import (
	"path/filepath"
	"strings"
)

// DecodeProjectPath reconstructs an original project directory from the
// encoded directory name agent CLIs use under their projects root, where path
// separators were replaced with dashes ("-Users-me-work-api" ->
// "/Users/me/work/api").
//
// The decoding is lossy: a dash that was part of the original directory name
// is indistinguishable from an encoded separator, so "my-app" decodes to
// "my/app". Recovering the true path would require persisting it alongside
// the encoded form at transcript-write time, which the writers do not do.
func DecodeProjectPath(encoded string) string {
	name := filepath.Base(encoded)
	if !strings.HasPrefix(name, "-") {
		return name
	}
	return "/" + strings.ReplaceAll(strings.TrimPrefix(name, "-"), "-", "/")
}
