// Package source retrieves documents from URLs, records them, and reduces
// their content to prose for the breakdown pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// ErrContentUnavailable is returned when a source's fetch did not produce
// usable content. Nothing downstream may run on such a source.
var ErrContentUnavailable = errors.New("source content unavailable")

// ErrInvalidURL is returned by Create for anything but an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid source url")

// Service manages sources.
type Service struct {
	store     store.SourceStore
	fetcher   *Fetcher
	extractor Extractor
	logger    *slog.Logger
}

// NewService creates a source service.
func NewService(st store.SourceStore, fetcher *Fetcher, extractor Extractor, logger *slog.Logger) *Service {
	if extractor == nil {
		extractor = HTMLExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, fetcher: fetcher, extractor: extractor, logger: logger}
}

// Create fetches rawURL and records the result. The source is recorded even
// when the fetch fails; its HTTPCode is 0 for transport failures and the
// response status otherwise.
func (s *Service) Create(ctx context.Context, rawURL string) (*models.Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: must be an absolute http(s) URL", ErrInvalidURL, rawURL)
	}

	src := models.Source{
		ID:         uuid.NewString(),
		URL:        rawURL,
		AccessedAt: time.Now().UTC(),
	}

	fetched, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("source fetch failed", "url", rawURL, "error", err)
	} else {
		src.HTTPCode = fetched.StatusCode
		src.Content = fetched.Body
	}

	if err := s.store.UpsertSource(ctx, src); err != nil {
		return nil, fmt.Errorf("saving source: %w", err)
	}
	s.logger.Info("created source", "id", src.ID, "url", src.URL, "http_code", src.HTTPCode, "available", src.Available())
	return &src, nil
}

// Get returns a source by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Source, error) {
	return s.store.GetSource(ctx, id)
}

// List returns recent sources without content.
func (s *Service) List(ctx context.Context, limit int) ([]models.Source, error) {
	return s.store.ListSources(ctx, limit)
}

// Delete removes a source.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteSource(ctx, id)
}

// Text returns the prose of an available source.
func (s *Service) Text(src *models.Source) (string, error) {
	if !src.Available() {
		return "", fmt.Errorf("%w: source %s (http %d)", ErrContentUnavailable, src.ID, src.HTTPCode)
	}
	text, err := s.extractor.Extract(src.Content)
	if err != nil {
		return "", fmt.Errorf("%w: source %s: %v", ErrContentUnavailable, src.ID, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: source %s has no text", ErrContentUnavailable, src.ID)
	}
	return text, nil
}
