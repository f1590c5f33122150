package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRegex = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRegex     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// progressParser turns ffmpeg's stderr stats lines into a completion percentage.
// The input duration comes from the "Duration:" header; progress from "time=" stats.
type progressParser struct {
	total time.Duration
	last  int
}

// Parse inspects one stderr line. It reports a percentage only when the whole
// percent value has advanced since the previous report.
func (p *progressParser) Parse(line string) (float64, bool) {
	if m := durationRegex.FindStringSubmatch(line); m != nil {
		if p.total == 0 {
			p.total = clockDuration(m[1], m[2], m[3])
		}
		return 0, false
	}

	m := timeRegex.FindStringSubmatch(line)
	if m == nil || p.total <= 0 {
		return 0, false
	}

	pct := float64(clockDuration(m[1], m[2], m[3])) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	if int(pct) <= p.last {
		return pct, false
	}
	p.last = int(pct)
	return pct, true
}

// isStatsLine reports whether line is a periodic progress line rather than a diagnostic
func isStatsLine(line string) bool {
	return timeRegex.MatchString(line) &&
		(strings.Contains(line, "size=") || strings.Contains(line, "bitrate="))
}

func clockDuration(h, m, s string) time.Duration {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.ParseFloat(s, 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}

// scanLines splits on '\n' or '\r' since ffmpeg rewrites its stats line in place
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
