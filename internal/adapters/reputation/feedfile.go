package reputation

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/pkg/bloomfilter"
)

// feedEntry is what a feed line resolves to.
type feedEntry struct {
	source     string
	categories []string
}

// feedData pairs the exact entry map with a Bloom filter used to reject
// unknown subjects without touching the map. Replaced atomically on reload.
type feedData struct {
	bloom   *bloomfilter.Filter
	entries map[string]feedEntry
}

// FeedFileSource answers lookups from a local threat feed file, one subject
// per line with an optional comma-separated origin ("1.2.3.4,abuseipdb").
// Lines starting with # are comments.
//
// The loaded set is swapped atomically so Reload never blocks lookups.
type FeedFileSource struct {
	filepath string
	data     atomic.Pointer[feedData]
	loadMu   sync.Mutex
}

const (
	feedBloomSize   = 10000
	feedBloomFPRate = 0.01
)

// NewFeedFileSource creates a feed source for the given file. Call Reload
// to populate it; until then every lookup is a clean verdict.
func NewFeedFileSource(path string) *FeedFileSource {
	s := &FeedFileSource{filepath: path}
	s.data.Store(&feedData{
		bloom:   bloomfilter.New(feedBloomSize, feedBloomFPRate),
		entries: make(map[string]feedEntry),
	})
	return s
}

// Reload re-reads the feed file. A missing file leaves the source empty
// rather than failing, so a feed can be provisioned after startup.
func (s *FeedFileSource) Reload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	cleanPath := filepath.Clean(s.filepath)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal detected in feed path: %q", s.filepath)
	}

	file, err := os.Open(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", s.filepath).Msg("Threat feed file not found, starting empty")
			return nil
		}
		return err
	}
	defer file.Close()

	loaded := make(map[string]feedEntry)
	bloom := bloomfilter.New(feedBloomSize, feedBloomFPRate)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		subject := strings.TrimSpace(parts[0])
		if _, err := netip.ParseAddr(subject); err != nil {
			log.Debug().Str("subject", subject).Msg("Invalid address in feed, skipping")
			continue
		}

		entry := feedEntry{source: "local", categories: []string{"known_malicious"}}
		if len(parts) >= 2 {
			entry.source = strings.TrimSpace(parts[1])
		}
		loaded[subject] = entry
		bloom.Add(subject)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.data.Store(&feedData{bloom: bloom, entries: loaded})
	log.Info().Int("count", len(loaded)).Str("file", s.filepath).Msg("Loaded threat feed")
	return nil
}

func (s *FeedFileSource) Lookup(ctx context.Context, subject string) (*domain.IPReputation, error) {
	data := s.data.Load()

	// Bloom negative means definitely not in the feed; skip the map.
	if !data.bloom.Contains(subject) {
		return &domain.IPReputation{Subject: subject, Source: s.Name()}, nil
	}
	entry, found := data.entries[subject]
	if !found {
		return &domain.IPReputation{Subject: subject, Source: s.Name()}, nil
	}
	return &domain.IPReputation{
		Subject:     subject,
		IsMalicious: true,
		Score:       100,
		Categories:  entry.categories,
		Source:      s.Name(),
	}, nil
}

// Count returns the number of loaded feed entries.
func (s *FeedFileSource) Count() int {
	return len(s.data.Load().entries)
}

func (s *FeedFileSource) Name() string {
	return "feedfile"
}
