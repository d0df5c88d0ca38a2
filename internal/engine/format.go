package engine

import (
	"fmt"
	"strings"
)

// Format is a target audio output format.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatM4A  Format = "m4a"
	FormatOpus Format = "opus"
)

// Bitrate bounds for lossy formats, in kbps.
const (
	MinBitrate     = 128
	MaxBitrate     = 320
	DefaultBitrate = 192
)

// Formats lists all supported output formats.
func Formats() []Format {
	return []Format{FormatMP3, FormatFLAC, FormatWAV, FormatM4A, FormatOpus}
}

// ParseFormat converts a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatMP3, FormatFLAC, FormatWAV, FormatM4A, FormatOpus:
		return Format(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown format %q (supported: mp3, flac, wav, m4a, opus)", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// Codec returns the ffmpeg encoder name for this format.
func (f Format) Codec() string {
	switch f {
	case FormatMP3:
		return "libmp3lame"
	case FormatFLAC:
		return "flac"
	case FormatWAV:
		return "pcm_s16le"
	case FormatM4A:
		return "aac"
	case FormatOpus:
		return "libopus"
	default:
		return string(f)
	}
}

// Lossy reports whether the format takes a target bitrate. Lossless
// formats ignore bitrate entirely.
func (f Format) Lossy() bool {
	switch f {
	case FormatFLAC, FormatWAV:
		return false
	default:
		return true
	}
}

// ValidateBitrate checks a requested bitrate against the format. A zero
// bitrate means "use default" and is always accepted.
func (f Format) ValidateBitrate(kbps int) error {
	if kbps == 0 || !f.Lossy() {
		return nil
	}
	if kbps < MinBitrate || kbps > MaxBitrate {
		return fmt.Errorf("bitrate %d kbps out of range %d-%d", kbps, MinBitrate, MaxBitrate)
	}
	return nil
}

// MatchesCodec reports whether a source stream with the given native
// codec already satisfies this format, so transcoding can be skipped.
func (f Format) MatchesCodec(codec string) bool {
	codec = strings.ToLower(codec)
	switch f {
	case FormatMP3:
		return codec == "mp3"
	case FormatOpus:
		return codec == "opus"
	case FormatM4A:
		return codec == "aac" || strings.HasPrefix(codec, "mp4a")
	case FormatFLAC:
		return codec == "flac"
	default:
		// WAV sources essentially never appear on streaming sites.
		return false
	}
}
