package mediatool

import (
	"regexp"
	"strconv"
)

var (
	regexpDuration = regexp.MustCompile(`Duration: (\d+):(\d\d):(\d\d)\.(\d+)`)
	regexpTime     = regexp.MustCompile(`time=(\d+):(\d\d):(\d\d)\.(\d+)`)
)

// ParseDuration extracts the input duration (in seconds) from a log line
// like "  Duration: 00:01:02.50, start: ...".
func ParseDuration(line string) (float64, bool) {
	return parseTimestamp(regexpDuration, line)
}

// ParseTime extracts the current position (in seconds) from a progress log
// line like "frame=  10 fps=0.0 q=-0.0 size=N/A time=00:00:00.40 ...".
func ParseTime(line string) (float64, bool) {
	return parseTimestamp(regexpTime, line)
}

func parseTimestamp(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	frac, err := strconv.ParseFloat("0."+m[4], 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+min*60+sec) + frac, true
}

// progressTracker converts log lines into a progress ratio.
type progressTracker struct {
	duration float64
	callback ProgressFunc
}

func (p *progressTracker) onLine(line string) {
	if p.callback == nil {
		return
	}
	if d, ok := ParseDuration(line); ok {
		p.duration = d
		return
	}
	if p.duration <= 0 {
		return
	}
	t, ok := ParseTime(line)
	if !ok {
		return
	}
	ratio := t / p.duration
	if ratio > 1 {
		return
	}
	p.callback(ratio)
}

func (p *progressTracker) finish() {
	if p.callback != nil {
		p.callback(1)
	}
}
