package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

var durationRe = regexp.MustCompile(`^(\d+)\s*(m|min|mins|minute|minutes|h|hr|hrs|hour|hours)$`)

// MaxInterviewDuration bounds the parsed duration.
const MaxInterviewDuration = 3 * time.Hour

// ParseDuration converts an interview duration label such as "30 min" or
// "1 hour" into a time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: unrecognized interview duration %q", domain.ErrInvalidArgument, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: interview duration %q must be positive", domain.ErrInvalidArgument, s)
	}
	unit := time.Minute
	if strings.HasPrefix(m[2], "h") {
		unit = time.Hour
	}
	// compare before multiplying so large counts cannot wrap
	if n > int(MaxInterviewDuration/unit) {
		return 0, fmt.Errorf("%w: interview duration %q exceeds %s", domain.ErrInvalidArgument, s, MaxInterviewDuration)
	}
	return time.Duration(n) * unit, nil
}
