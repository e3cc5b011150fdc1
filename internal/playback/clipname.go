package playback

import (
	"regexp"
	"strconv"
)

var (
	messageClipName = regexp.MustCompile(`^message_(\d+)(?:\.[A-Za-z0-9]+)?$`)
	indexedClipName = regexp.MustCompile(`_(\d+)\.[A-Za-z0-9]+$`)
)

// ParseClipIndex extracts the turn index from a clip filename written before
// manifests existed: message_<n>[.ext] or <anything>_<n>.<ext>.
func ParseClipIndex(name string) (int, bool) {
	m := messageClipName.FindStringSubmatch(name)
	if m == nil {
		m = indexedClipName.FindStringSubmatch(name)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
