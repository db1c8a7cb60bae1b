// Package media identifies uploaded payloads by content and reads what
// little metadata the site keeps about them.
package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// Content types reported by Sniff.
const (
	TypeMP3     = "audio/mpeg"
	TypeWAV     = "audio/wav"
	TypeFLAC    = "audio/flac"
	TypeJPEG    = "image/jpeg"
	TypePNG     = "image/png"
	TypeUnknown = "application/octet-stream"
)

// sniffLen matches what http.DetectContentType considers.
const sniffLen = 512

// mpegProbeFrames is how many back-to-back frames a tagless stream must
// decode before it counts as MPEG audio.
const mpegProbeFrames = 3

// Sniff reports the content type of r judged from its bytes alone. The
// reader is returned to its original offset.
func Sniff(r io.ReadSeeker) (string, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("seek payload: %w", err)
	}
	defer r.Seek(start, io.SeekStart)

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read payload header: %w", err)
	}
	if n == 0 {
		return TypeUnknown, nil
	}
	head = head[:n]

	switch detected := http.DetectContentType(head); detected {
	case TypeJPEG, TypePNG:
		return detected, nil
	case "audio/mpeg":
		// http.DetectContentType only says this for an ID3v2 prefix.
		return TypeMP3, nil
	case "audio/wave":
		return TypeWAV, nil
	}

	checks := []struct {
		contentType string
		match       func(io.ReadSeeker) bool
	}{
		{TypeWAV, isWAV},
		{TypeFLAC, isFLAC},
		{TypeMP3, isTaggedMP3},
		{TypeMP3, isMPEGStream},
	}
	for _, check := range checks {
		if _, err := r.Seek(start, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek payload: %w", err)
		}
		if check.match(r) {
			return check.contentType, nil
		}
	}

	return http.DetectContentType(head), nil
}

// isWAV reads the RIFF header and format chunk.
func isWAV(r io.ReadSeeker) bool {
	return wav.NewDecoder(r).IsValidFile()
}

// isFLAC parses the stream signature and STREAMINFO block.
func isFLAC(r io.ReadSeeker) bool {
	stream, err := flac.New(r)
	if err != nil {
		return false
	}
	return stream.Info != nil && stream.Info.SampleRate > 0
}

// isTaggedMP3 accepts streams carrying ID3 tags (including a trailing
// ID3v1 block) as long as the audio itself starts with MPEG frames.
func isTaggedMP3(r io.ReadSeeker) bool {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	_, fileType, err := tag.Identify(r)
	if err != nil || fileType != tag.MP3 {
		return false
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return false
	}
	return isMPEGStream(r)
}

// isMPEGStream requires several consecutive MPEG audio frames from the
// very first byte, which random binary data essentially never produces.
func isMPEGStream(r io.ReadSeeker) bool {
	dec := mp3.NewDecoder(r)
	var frame mp3.Frame
	skipped := 0
	for i := 0; i < mpegProbeFrames; i++ {
		if err := dec.Decode(&frame, &skipped); err != nil {
			return false
		}
		if skipped != 0 {
			return false
		}
	}
	return true
}
