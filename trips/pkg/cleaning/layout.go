package cleaning

import (
	"fmt"
	"strings"
	"time"
)

// TimeParserPolicy selects how timestamp text is turned into instants.
type TimeParserPolicy string

const (
	// PolicyLegacy rolls out-of-range fields over (Feb 30 becomes Mar 2) and
	// reads dates before 1582-10-15 in the Julian calendar.
	PolicyLegacy TimeParserPolicy = "legacy"
	// PolicyCorrected parses strictly in the proleptic Gregorian calendar.
	PolicyCorrected TimeParserPolicy = "corrected"
)

// DefaultTimestampLayout is YYYY-MM-DD HH:MM:SS.
const DefaultTimestampLayout = "2006-01-02 15:04:05"

type layoutField int

const (
	fieldLiteral layoutField = iota
	fieldYear
	fieldMonth
	fieldDay
	fieldHour
	fieldMinute
	fieldSecond
)

var layoutTokens = []struct {
	token string
	field layoutField
	width int
}{
	{"2006", fieldYear, 4},
	{"01", fieldMonth, 2},
	{"02", fieldDay, 2},
	{"15", fieldHour, 2},
	{"04", fieldMinute, 2},
	{"05", fieldSecond, 2},
}

type layoutElem struct {
	field   layoutField
	literal string
	width   int
}

// lenientLayout is a numeric Go layout compiled for the legacy parser.
type lenientLayout struct {
	elems []layoutElem
}

func compileLenientLayout(layout string) (*lenientLayout, error) {
	var elems []layoutElem
	seen := map[layoutField]bool{}
	rest := layout
	for rest != "" {
		matched := false
		for _, tok := range layoutTokens {
			if strings.HasPrefix(rest, tok.token) {
				if seen[tok.field] {
					return nil, fmt.Errorf("layout %q repeats %q", layout, tok.token)
				}
				seen[tok.field] = true
				elems = append(elems, layoutElem{field: tok.field, width: tok.width})
				rest = rest[len(tok.token):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		c := rest[0]
		if c >= '0' && c <= '9' {
			return nil, fmt.Errorf("layout %q has an unsupported element at %q", layout, rest)
		}
		if n := len(elems); n > 0 && elems[n-1].field == fieldLiteral {
			elems[n-1].literal += string(c)
		} else {
			elems = append(elems, layoutElem{field: fieldLiteral, literal: string(c)})
		}
		rest = rest[1:]
	}
	for _, f := range []layoutField{fieldYear, fieldMonth, fieldDay} {
		if !seen[f] {
			return nil, fmt.Errorf("layout %q must contain year, month and day", layout)
		}
	}
	return &lenientLayout{elems: elems}, nil
}

// parse reads the numeric fields of s and resolves them leniently.
func (l *lenientLayout) parse(s string, loc *time.Location) (time.Time, bool) {
	var fields [7]int
	rest := s
	for _, e := range l.elems {
		if e.field == fieldLiteral {
			if !strings.HasPrefix(rest, e.literal) {
				return time.Time{}, false
			}
			rest = rest[len(e.literal):]
			continue
		}
		n, v := 0, 0
		for n < e.width && n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
			v = v*10 + int(rest[n]-'0')
			n++
		}
		if n == 0 {
			return time.Time{}, false
		}
		fields[e.field] = v
		rest = rest[n:]
	}
	if rest != "" {
		return time.Time{}, false
	}
	return legacyTime(fields[fieldYear], fields[fieldMonth], fields[fieldDay],
		fields[fieldHour], fields[fieldMinute], fields[fieldSecond], loc), true
}

// unixEpochJDN is the Julian day number of 1970-01-01.
const unixEpochJDN = 2440588

// legacyTime resolves wall-clock fields the way lenient hybrid-calendar
// parsers do: months roll into years, days and clock fields roll forward
// arithmetically, and dates before the Gregorian cutover are Julian.
func legacyTime(year, month, day, hour, min, sec int, loc *time.Location) time.Time {
	m := month - 1
	year += floorDiv(m, 12)
	month = m - floorDiv(m, 12)*12 + 1

	var jdn int
	if year < 1582 || year == 1582 && (month < 10 || month == 10 && day < 15) {
		jdn = julianDayNumber(year, month, day)
	} else {
		jdn = gregorianDayNumber(year, month, day)
	}
	secs := int64(jdn-unixEpochJDN)*86400 + int64(hour)*3600 + int64(min)*60 + int64(sec)
	wall := time.Unix(secs, 0).UTC()
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
}

func gregorianDayNumber(y, m, d int) int {
	a := (14 - m) / 12
	y2 := y + 4800 - a
	m2 := m + 12*a - 3
	return d + (153*m2+2)/5 + 365*y2 + floorDiv(y2, 4) - floorDiv(y2, 100) + floorDiv(y2, 400) - 32045
}

func julianDayNumber(y, m, d int) int {
	a := (14 - m) / 12
	y2 := y + 4800 - a
	m2 := m + 12*a - 3
	return d + (153*m2+2)/5 + 365*y2 + floorDiv(y2, 4) - 32083
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
