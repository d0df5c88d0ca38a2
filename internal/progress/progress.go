// Package progress parses raw engine output lines into structured updates.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which engine phase a parsed line belongs to.
type Kind string

const (
	KindDownload  Kind = "download"
	KindTranscode Kind = "transcode"
)

// Update is a structured progress snapshot parsed from one output line.
// Zero values mean the field was absent from the line (ETA uses -1 for
// unknown since 0 is a valid remaining time).
type Update struct {
	Kind       Kind
	BytesDone  int64
	BytesTotal int64
	SpeedBps   int64
	ETA        time.Duration
	Percent    float64
	Finished   bool
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ytdlp progress lines look like:
//
//	[download]  42.5% of 10.52MiB at 1.24MiB/s ETA 00:12
//	[download]  42.5% of ~10.52MiB at Unknown B/s ETA Unknown
//	[download] 100% of 10.52MiB in 00:05
var downloadLine = regexp.MustCompile(
	`^\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+\s*[KMGT]?i?B)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// ffmpeg -progress output is key=value pairs, one per line.
var progressKV = regexp.MustCompile(`^(\w+)=\s*(\S+)`)

// Parser turns raw engine output lines into Updates. It keeps small
// per-item context so fields missing from one line can be filled from
// earlier ones (e.g. total size seen once at the start).
type Parser struct {
	lastTotal int64
	duration  time.Duration // media duration, for transcode percent
	totalSize int64         // last total_size reported by ffmpeg
}

// NewParser creates a parser for a single item's output stream.
func NewParser() *Parser {
	return &Parser{}
}

// SetDuration supplies the item's media duration so transcode progress
// can be expressed as a fraction.
func (p *Parser) SetDuration(d time.Duration) {
	p.duration = d
}

// Parse extracts a progress update from one raw output line.
// Unrecognized lines return ok=false and are never an error.
func (p *Parser) Parse(line string) (Update, bool) {
	line = strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))
	if line == "" {
		return Update{}, false
	}

	if strings.HasPrefix(line, "[download]") {
		return p.parseDownload(line)
	}
	if m := progressKV.FindStringSubmatch(line); m != nil {
		return p.parseTranscode(m[1], m[2])
	}
	return Update{}, false
}

func (p *Parser) parseDownload(line string) (Update, bool) {
	m := downloadLine.FindStringSubmatch(line)
	if m == nil {
		return Update{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Update{}, false
	}

	total := ParseSize(m[2])
	if total == 0 {
		total = p.lastTotal
	} else {
		p.lastTotal = total
	}

	u := Update{
		Kind:       KindDownload,
		Percent:    percent,
		BytesTotal: total,
		BytesDone:  int64(percent / 100 * float64(total)),
		SpeedBps:   ParseSpeed(m[3]),
		ETA:        ParseETA(m[4]),
		Finished:   percent >= 100,
	}
	return u, true
}

func (p *Parser) parseTranscode(key, value string) (Update, bool) {
	switch key {
	case "total_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Update{}, false
		}
		p.totalSize = n
		return Update{}, false
	case "out_time_ms":
		// Despite the name this is microseconds.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Update{}, false
		}
		u := Update{
			Kind:      KindTranscode,
			BytesDone: p.totalSize,
			ETA:       -1,
		}
		if p.duration > 0 {
			u.Percent = float64(us) * 100 / float64(p.duration.Microseconds())
			if u.Percent > 100 {
				u.Percent = 100
			}
		}
		return u, true
	case "progress":
		if value == "end" {
			return Update{
				Kind:      KindTranscode,
				BytesDone: p.totalSize,
				Percent:   100,
				Finished:  true,
				ETA:       -1,
			}, true
		}
		return Update{}, false
	default:
		return Update{}, false
	}
}

// sizeUnits maps unit suffixes to byte multipliers. Binary convention:
// both "K" and "KiB" mean 1024.
var sizeUnits = map[string]int64{
	"B":   1,
	"K":   1 << 10,
	"KIB": 1 << 10,
	"M":   1 << 20,
	"MIB": 1 << 20,
	"G":   1 << 30,
	"GIB": 1 << 30,
	"T":   1 << 40,
	"TIB": 1 << 40,
}

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([KMGT]?i?B|[KMGT])?$`)

// ParseSize converts a size string with an optional unit suffix
// ("10.52MiB", "1.5M", "500B") to bytes. Returns 0 if unparseable.
func ParseSize(s string) int64 {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	mult := int64(1)
	if m[2] != "" {
		u, ok := sizeUnits[strings.ToUpper(m[2])]
		if !ok {
			return 0
		}
		mult = u
	}
	return int64(val * float64(mult))
}

// ParseSpeed converts a speed string ("1.24MiB/s") to bytes per second.
// Returns 0 for empty or unrecognized input (yt-dlp prints "Unknown B/s"
// before the first measurement).
func ParseSpeed(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "Unknown") {
		return 0
	}
	s = strings.TrimSuffix(s, "/s")
	return ParseSize(s)
}

// ParseETA converts "MM:SS" or "HH:MM:SS" to a duration. Returns -1 for
// empty or unrecognized input so callers can distinguish "unknown" from
// "zero seconds left".
func ParseETA(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" || s == "Unknown" {
		return -1
	}
	parts := strings.Split(s, ":")
	var total int
	switch len(parts) {
	case 2, 3:
		for _, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil {
				return -1
			}
			total = total*60 + n
		}
	default:
		return -1
	}
	return time.Duration(total) * time.Second
}
