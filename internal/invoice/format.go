package invoice

import (
	"strconv"
	"strings"
	"time"
)

const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

func formatDate(t time.Time, f DateFormat) string {
	switch f {
	case DateDDMM:
		return t.Format("0201")
	case DateYYYYMMDD:
		return t.Format("20060102")
	case DateYYMMDD:
		return t.Format("060102")
	default:
		return t.Format("0102")
	}
}

func padNumber(n, minDigits int) string {
	s := strconv.Itoa(n)
	if len(s) >= minDigits {
		return s
	}
	return strings.Repeat("0", minDigits-len(s)) + s
}

// buildNumber joins prefix, date part, number and suffix with the separator,
// omitting empty prefix, date part and suffix.
func buildNumber(s Settings, datePart, number string) string {
	parts := make([]string, 0, 4)
	if s.Prefix != "" {
		parts = append(parts, s.Prefix)
	}
	if datePart != "" {
		parts = append(parts, datePart)
	}
	parts = append(parts, number)
	if s.Suffix != "" {
		parts = append(parts, s.Suffix)
	}
	return strings.Join(parts, s.Separator)
}

// fallbackNumber is used when no counter can be allocated.
func fallbackNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return "INV_" + ms
}
