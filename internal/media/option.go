// Package media defines the downloadable media options returned by the
// resolver and the quality/format preferences used to choose between them.
package media

import (
	"errors"
	"strings"
)

// Quality is the caller's quality preference.
type Quality string

const (
	QualityAuto  Quality = "auto"
	QualityBest  Quality = "best"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
)

// Format is the requested container format.
type Format string

const (
	FormatMP4 Format = "mp4"
	FormatMP3 Format = "mp3"
)

// Option is one downloadable rendition of a source URL. Size is zero when
// the upstream extractor does not report it.
type Option struct {
	Quality string `json:"quality"`
	Format  string `json:"format"`
	URL     string `json:"url"`
	Size    int64  `json:"size,omitempty"`
}

// ErrNoMatchingOption is returned when no option satisfies the requested
// format at all.
var ErrNoMatchingOption = errors.New("no media option matches the requested format")

// qualityRank orders known quality labels from best to worst. Unknown labels
// rank below everything known.
var qualityRank = []string{"2160p", "1440p", "1080p", "720p", "480p", "360p", "240p", "144p"}

func rankOf(quality string) int {
	q := strings.ToLower(strings.TrimSpace(quality))
	for i, r := range qualityRank {
		if q == r {
			return i
		}
	}
	return len(qualityRank)
}

// ParseQuality normalizes a user-supplied quality string, defaulting to auto.
func ParseQuality(s string) Quality {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case QualityBest:
		return QualityBest
	case Quality1080p:
		return Quality1080p
	case Quality720p:
		return Quality720p
	case Quality480p:
		return Quality480p
	default:
		return QualityAuto
	}
}

// ParseFormat normalizes a user-supplied format string, defaulting to mp4.
func ParseFormat(s string) Format {
	if Format(strings.ToLower(strings.TrimSpace(s))) == FormatMP3 {
		return FormatMP3
	}
	return FormatMP4
}

// Select picks the option matching the requested quality and format,
// falling back to the closest available quality when there is no exact
// match. auto and best both mean "highest available".
func Select(options []Option, quality Quality, format Format) (Option, error) {
	candidates := make([]Option, 0, len(options))
	for _, o := range options {
		if strings.EqualFold(o.Format, string(format)) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		// Audio extraction APIs sometimes label mp3 renditions by bitrate
		// only; for mp3 fall back to any audio-ish option before giving up.
		if format == FormatMP3 {
			for _, o := range options {
				if strings.Contains(strings.ToLower(o.Format), "audio") {
					candidates = append(candidates, o)
				}
			}
		}
		if len(candidates) == 0 {
			return Option{}, ErrNoMatchingOption
		}
	}

	if quality == QualityAuto || quality == QualityBest {
		best := candidates[0]
		for _, o := range candidates[1:] {
			if rankOf(o.Quality) < rankOf(best.Quality) {
				best = o
			}
		}
		return best, nil
	}

	want := rankOf(string(quality))
	chosen := candidates[0]
	bestDist := distance(rankOf(chosen.Quality), want)
	for _, o := range candidates[1:] {
		if d := distance(rankOf(o.Quality), want); d < bestDist {
			chosen = o
			bestDist = d
		}
	}
	return chosen, nil
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
