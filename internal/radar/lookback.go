package radar

import (
	"strings"
	"time"
	_ "time/tzdata" // Pacific/Auckland must resolve without a system zoneinfo
)

const (
	// LookbackSamples is the number of minutes checked on each fetch run.
	LookbackSamples = 60
	// LookbackStep is the spacing between checked minutes.
	LookbackStep = time.Minute

	// DefaultRetention is how long a stored tile is kept.
	DefaultRetention = 2 * time.Hour

	stampLayout = "2006-01-02T15:04:00"
	fileLayout  = "2006-01-02T15-04-0700"

	filePrefix = "rain_radar_"
	fileExt    = ".gif"
)

// OffsetSuffix returns the UTC offset of t in its own location, formatted the
// way the radar endpoint expects it: "+13:00" during New Zealand daylight
// saving and "+12:00" otherwise.
func OffsetSuffix(t time.Time) string {
	return t.Format("-07:00")
}

// FormatStamp formats the wall-clock minute of t.
func FormatStamp(t time.Time) string {
	return t.Format(stampLayout)
}

// CandidateTimes returns the minutes of the lookback window in loc, newest
// first. The first element is now truncated to the minute.
func CandidateTimes(now time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	base := now.In(loc).Truncate(time.Minute)

	times := make([]time.Time, 0, LookbackSamples)
	for i := 0; i < LookbackSamples; i++ {
		times = append(times, base.Add(-time.Duration(i)*LookbackStep))
	}
	return times
}

// BuildCandidates maps the lookback window onto source URLs and destination
// file names. The offset is taken per minute so a window that spans a
// daylight-saving change still produces valid URLs on both sides of it.
func BuildCandidates(baseURL string, now time.Time, loc *time.Location) []Candidate {
	times := CandidateTimes(now, loc)

	out := make([]Candidate, 0, len(times))
	for _, t := range times {
		stamp := FormatStamp(t)
		out = append(out, Candidate{
			At:       t,
			Stamp:    stamp,
			URL:      baseURL + stamp + OffsetSuffix(t),
			FileName: FileName(t),
		})
	}
	return out
}

// FileName is the destination name for the tile taken at t. The offset is
// part of the name so the repeated hour at the end of daylight saving does
// not collide with the first one.
func FileName(t time.Time) string {
	return filePrefix + t.Format(fileLayout) + fileExt
}

// ParseFileName extracts the embedded timestamp from a tile name. Names that
// do not follow the pattern report false.
func ParseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	t, err := time.Parse(fileLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsTileName reports whether name follows the tile naming pattern.
func IsTileName(name string) bool {
	_, ok := ParseFileName(name)
	return ok
}
