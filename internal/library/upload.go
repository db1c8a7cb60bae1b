package library

import (
	"context"
	"fmt"
	"io"

	"melodycloud/internal/media"
	"melodycloud/pkg/models"

	"github.com/sirupsen/logrus"
)

// Payload is one uploaded file. Content must be positioned at the start of
// the data; it is read several times and rewound in between.
type Payload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

func (p *Payload) present() bool {
	return p != nil && p.Content != nil && p.Size > 0
}

// UploadRequest carries everything a client submits for a new track.
type UploadRequest struct {
	Audio       *Payload
	Cover       *Payload // optional
	Title       string
	Artist      string
	Description string
}

// uploadPlan is the outcome of validation: what to write and what record
// to append once the writes succeed.
type uploadPlan struct {
	writes []pendingWrite
	record models.Track
}

type pendingWrite struct {
	path string
	src  io.ReadSeeker
}

// Upload validates the request, stores the media files and appends a new
// record to the catalog. On any failure after the first file write every
// file written so far is removed again and no record is added.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.Track, error) {
	coverType, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	plan, err := s.plan(ctx, req, coverType)
	if err != nil {
		return nil, err
	}

	written, err := s.apply(ctx, plan.writes)
	if err != nil {
		return nil, err
	}

	created := plan.record
	err = s.catalog.Update(func(tracks []models.Track) ([]models.Track, error) {
		id, err := s.uniqueID(tracks)
		if err != nil {
			return nil, err
		}
		created.ID = id
		created.UploadDate = s.now().Format(models.UploadDateLayout)
		return append(tracks, created), nil
	})
	if err != nil {
		s.discard(ctx, written, err)
		return nil, fmt.Errorf("save catalog: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"track_id": created.ID,
		"title":    created.Title,
		"artist":   created.Artist,
		"url":      created.URL,
		"cover":    created.Cover,
	}).Info("Track uploaded")
	s.record(ctx, EventUpload, created.ID, created.URL)

	return &created, nil
}

// validate applies the input checks in order and returns the sniffed cover
// type ("" when no cover was sent). Nothing is written.
func (s *Service) validate(req UploadRequest) (string, error) {
	if !req.Audio.present() {
		return "", &ValidationError{Field: "track", Message: "Audio file is required", Err: ErrMissingAudio}
	}

	audioType, err := media.Sniff(req.Audio.Content)
	if err != nil {
		return "", &ValidationError{Field: "track", Message: "Audio file could not be read", Err: ErrMissingAudio}
	}
	if audioType != media.TypeMP3 {
		return "", &ValidationError{
			Field:   "track",
			Message: fmt.Sprintf("Invalid audio file type (%s). Only MP3 allowed.", audioType),
			Err:     ErrInvalidMediaType,
		}
	}
	if req.Audio.Size > s.cfg.MaxAudioBytes {
		return "", &ValidationError{
			Field:   "track",
			Message: fmt.Sprintf("Audio file must be at most %s", formatLimit(s.cfg.MaxAudioBytes)),
			Err:     ErrPayloadTooLarge,
		}
	}

	if !req.Cover.present() {
		return "", nil
	}
	coverType, err := media.Sniff(req.Cover.Content)
	if err != nil {
		return "", &ValidationError{Field: "cover", Message: "Cover image could not be read", Err: ErrInvalidMediaType}
	}
	if coverType != media.TypeJPEG && coverType != media.TypePNG {
		return "", &ValidationError{
			Field:   "cover",
			Message: fmt.Sprintf("Invalid cover image type (%s). Only JPG/PNG allowed.", coverType),
			Err:     ErrInvalidMediaType,
		}
	}
	if req.Cover.Size > s.cfg.MaxCoverBytes {
		return "", &ValidationError{
			Field:   "cover",
			Message: fmt.Sprintf("Cover image must be at most %s", formatLimit(s.cfg.MaxCoverBytes)),
			Err:     ErrPayloadTooLarge,
		}
	}
	return coverType, nil
}

// plan chooses file names and builds the record. It reads but never writes.
func (s *Service) plan(ctx context.Context, req UploadRequest, coverType string) (*uploadPlan, error) {
	audioPath, err := s.freshPath(ctx, s.cfg.MusicDir, "track", ".mp3")
	if err != nil {
		return nil, fmt.Errorf("%w: choose audio file name: %w", ErrStorageWrite, err)
	}

	p := &uploadPlan{
		writes: []pendingWrite{{path: audioPath, src: req.Audio.Content}},
	}

	coverPath := s.cfg.DefaultCover
	if coverType != "" {
		ext := ".png"
		if coverType == media.TypeJPEG {
			ext = ".jpg"
		}
		coverPath, err = s.freshPath(ctx, s.cfg.CoversDir, "cover", ext)
		if err != nil {
			return nil, fmt.Errorf("%w: choose cover file name: %w", ErrStorageWrite, err)
		}
		p.writes = append(p.writes, pendingWrite{path: coverPath, src: req.Cover.Content})
	}

	info := media.Probe(req.Audio.Content)

	title := sanitizeText(req.Title, false, maxNameRunes)
	artist := sanitizeText(req.Artist, false, maxNameRunes)
	if s.cfg.PreferEmbeddedTags {
		if title == "" {
			title = sanitizeText(info.Title, false, maxNameRunes)
		}
		if artist == "" {
			artist = sanitizeText(info.Artist, false, maxNameRunes)
		}
	}

	p.record = models.Track{
		Title:       orDefault(title, DefaultTitle),
		Artist:      orDefault(artist, DefaultArtist),
		Description: sanitizeText(req.Description, true, maxDescriptionRunes),
		URL:         audioPath,
		Cover:       coverPath,
		Duration:    info.Duration,
	}
	return p, nil
}

// apply performs the writes in order. If one fails, the ones before it are
// removed and ErrStorageWrite is returned. On success it returns every
// path written.
func (s *Service) apply(ctx context.Context, writes []pendingWrite) ([]string, error) {
	written := make([]string, 0, len(writes))
	for _, w := range writes {
		if _, err := w.src.Seek(0, io.SeekStart); err != nil {
			s.discard(ctx, written, err)
			return nil, fmt.Errorf("%w: rewind payload for %s: %w", ErrStorageWrite, w.path, err)
		}
		if _, err := s.files.Write(ctx, w.path, w.src); err != nil {
			s.discard(ctx, written, err)
			return nil, fmt.Errorf("%w: %s: %w", ErrStorageWrite, w.path, err)
		}
		written = append(written, w.path)
	}
	return written, nil
}

// uniqueID draws ids until one is absent from tracks.
func (s *Service) uniqueID(tracks []models.Track) (string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("%w: generate track id: %w", ErrPersistence, err)
		}
		if id != "" && models.IndexOf(tracks, id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no unique track id after %d attempts", ErrPersistence, maxNameAttempts)
}

func formatLimit(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
