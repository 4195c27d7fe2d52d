package publish

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseInterval accepts the "<number><unit>" shorthand used throughout
// server_config.json (units ms|s|m) and falls back to a plain integer
// meaning milliseconds, matching the leniency of the teacher's own
// settings parsing.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	for _, unit := range []struct {
		suffix string
		factor time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, unit.suffix))
			if err != nil {
				return 0, fmt.Errorf("invalid interval %q: %w", s, err)
			}
			return time.Duration(n) * unit.factor, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
