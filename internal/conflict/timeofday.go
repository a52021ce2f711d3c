package conflict

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TimeOfDay is minutes since midnight. Booking times are parsed into this
// once at the boundary so the overlap algorithm never touches strings.
type TimeOfDay int

var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:\s*([AaPp][Mm]))?$`)

// ParseTimeOfDay accepts 24-hour "HH:MM" and 12-hour "H:MM AM/PM" clock
// strings. "12:xx AM" maps to hour 0 and "12:xx PM" to hour 12.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM or H:MM AM/PM", s)
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m[2])
	if err != nil || minute > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}

	switch meridiem := strings.ToUpper(m[3]); meridiem {
	case "":
		if hour > 23 {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
	case "AM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour != 12 {
			hour += 12
		}
	}

	return TimeOfDay(hour*60 + minute), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Overlaps reports whether [t, end) intersects [otherStart, otherEnd).
// Intervals are half-open, so one ending exactly when another begins does
// not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return aStart < bEnd && aEnd > bStart
}
