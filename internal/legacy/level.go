package legacy

import (
	"strconv"
	"strings"
)

// LevelPrefix prefixes level term labels.
const LevelPrefix = "level_"

// LevelLabel returns the term label for a numeric user level.
func LevelLabel(level int) string {
	return LevelPrefix + strconv.Itoa(level)
}

// ParseLevel reads a stored user_level value.
func ParseLevel(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LevelLabelFromRaw maps a stored user_level value to its term label.
func LevelLabelFromRaw(raw string) (string, bool) {
	n, ok := ParseLevel(raw)
	if !ok {
		return "", false
	}
	return LevelLabel(n), true
}
