package media

import (
	"io"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// Info holds metadata read from an audio payload. Zero values mean unknown.
type Info struct {
	Title    string
	Artist   string
	Duration int // in seconds
}

// Probe reads embedded tags and the playing time of an MP3 payload. It
// never fails: whatever cannot be read is left empty. The reader is
// returned to its original offset.
func Probe(r io.ReadSeeker) Info {
	var info Info

	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return info
	}
	defer r.Seek(start, io.SeekStart)

	if metadata, err := tag.ReadFrom(r); err == nil {
		info.Title = strings.TrimSpace(metadata.Title())
		info.Artist = strings.TrimSpace(metadata.Artist())
	}

	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return info
	}
	info.Duration = durationMP3(r)

	return info
}

// durationMP3 sums frame durations until the stream ends or stops decoding.
func durationMP3(r io.Reader) int {
	dec := mp3.NewDecoder(r)
	var total time.Duration
	var frame mp3.Frame
	skipped := 0
	for {
		// EOF or a damaged frame: keep what decoded so far
		if err := dec.Decode(&frame, &skipped); err != nil {
			break
		}
		total += frame.Duration()
	}
	return int(total.Seconds())
}
