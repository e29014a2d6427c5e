package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
	"github.com/xoelrdgz/ipsentinel/pkg/slidingwindow"
	"github.com/xoelrdgz/ipsentinel/pkg/ttlcache"
)

// ReputationServiceConfig defines reputation service construction options.
type ReputationServiceConfig struct {
	CacheTTL       time.Duration // Verdict cache lifetime (default: 30m)
	RatePerMinute  int           // Per-source lookup quota (default: 30)
	LookupTimeout  time.Duration // Per-source call bound (default: 5s)
}

// ReputationService answers "is this subject known-bad?" by composing a
// local blacklist, a TTL cache and external sources queried in priority
// order under per-source rate limits.
//
// Resolution order: cache hit, then blacklist, then sources. The first
// source reporting malicious short-circuits the chain; a source failure or
// exhausted quota means the source abstains and the next one is tried.
//
// Thread Safety: All public methods are safe for concurrent access.
// Concurrent lookups for the same subject are collapsed into one resolution.
type ReputationService struct {
	cache         *ttlcache.Cache[string, *domain.IPReputation]
	lookupTimeout time.Duration

	blacklistMu sync.RWMutex
	blacklist   map[string]struct{}

	sources []ratedSource
	flight  singleflight.Group

	clock   ports.Clock
	metrics *domain.CoreMetrics
}

type ratedSource struct {
	source  ports.ReputationSource
	limiter *slidingwindow.Counter
}

// NewReputationService creates a reputation service. Sources are queried in
// the order given; each gets its own rolling one-minute quota, tracked
// independently of the auto-blocker's windows.
func NewReputationService(config ReputationServiceConfig, sources []ports.ReputationSource, metrics *domain.CoreMetrics, clock ports.Clock) *ReputationService {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Minute
	}
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = 30
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = domain.NewCoreMetrics()
	}

	s := &ReputationService{
		cache: ttlcache.New[string, *domain.IPReputation](ttlcache.Config{
			TTL: config.CacheTTL,
			Now: clock.Now,
		}),
		lookupTimeout: config.LookupTimeout,
		blacklist:     make(map[string]struct{}),
		clock:         clock,
		metrics:       metrics,
	}
	for _, src := range sources {
		s.sources = append(s.sources, ratedSource{
			source:  src,
			limiter: slidingwindow.New(config.RatePerMinute, time.Minute),
		})
	}
	return s
}

// CheckReputation resolves a verdict for the subject. Never fails: when
// every source abstains it returns the default unknown verdict.
func (s *ReputationService) CheckReputation(ctx context.Context, subject string) (*domain.IPReputation, error) {
	s.metrics.IncrementReputationLookups()

	if rep, ok := s.cache.Get(subject); ok {
		s.metrics.IncrementReputationCacheHits()
		return rep, nil
	}

	result, err, _ := s.flight.Do(subject, func() (interface{}, error) {
		// Re-check the cache: another flight may have resolved while this
		// caller was queued.
		if rep, ok := s.cache.Get(subject); ok {
			return rep, nil
		}
		return s.resolve(ctx, subject), nil
	})
	if err != nil {
		return domain.UnknownReputation(subject), nil
	}
	return result.(*domain.IPReputation), nil
}

func (s *ReputationService) resolve(ctx context.Context, subject string) *domain.IPReputation {
	if s.isBlacklisted(subject) {
		rep := domain.BlacklistReputation(subject)
		s.cache.Set(subject, rep)
		return rep
	}

	var lastVerdict *domain.IPReputation
	for _, rated := range s.sources {
		if !rated.limiter.Allow(s.clock.Now()) {
			s.metrics.IncrementSourceErrors()
			rateErr := &domain.RateLimitExceededError{Source: rated.source.Name(), Limit: rated.limiter.Limit()}
			log.Warn().Str("source", rated.source.Name()).Msg(rateErr.Error())
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		rep, err := rated.source.Lookup(lookupCtx, subject)
		cancel()
		if err != nil {
			s.metrics.IncrementSourceErrors()
			var unavailable *domain.SourceUnavailableError
			if !errors.As(err, &unavailable) {
				err = &domain.SourceUnavailableError{Source: rated.source.Name(), Err: err}
			}
			log.Warn().Err(err).Str("source", rated.source.Name()).Msg("Reputation source abstained")
			continue
		}

		if rep.IsMalicious {
			s.cache.Set(subject, rep)
			log.Info().Str("subject", subject).Str("source", rep.Source).
				Int("score", rep.Score).Msg("Malicious verdict")
			return rep
		}
		lastVerdict = rep
	}

	if lastVerdict != nil {
		s.cache.Set(subject, lastVerdict)
		return lastVerdict
	}
	return domain.UnknownReputation(subject)
}

// EnrichEvent merges a threat-intel sub-object into a copy of the event.
// The input event is never mutated.
func (s *ReputationService) EnrichEvent(ctx context.Context, event *domain.SecurityEvent, geo ports.GeoLocator) (*domain.EnrichedEvent, error) {
	rep, err := s.CheckReputation(ctx, event.Subject)
	if err != nil {
		return nil, err
	}

	enriched := event.Clone()
	threatIntel := map[string]interface{}{
		"is_malicious": rep.IsMalicious,
		"score":        rep.Score,
		"source":       rep.Source,
	}
	if len(rep.Categories) > 0 {
		threatIntel["categories"] = rep.Categories
	}
	if geo != nil {
		if info, geoErr := geo.Locate(event.Subject); geoErr == nil && info != nil {
			if info.Country != "" {
				threatIntel["country"] = info.Country
			}
			if info.City != "" {
				threatIntel["city"] = info.City
			}
		}
	}
	if enriched.Metadata == nil {
		enriched.Metadata = make(map[string]interface{})
	}
	enriched.Metadata["threat_intel"] = threatIntel

	return &domain.EnrichedEvent{Reputation: rep, Event: enriched}, nil
}

// AddToBlacklist adds a subject to the local blacklist and invalidates any
// cached verdict so the next lookup reflects the change.
func (s *ReputationService) AddToBlacklist(subject string) {
	s.blacklistMu.Lock()
	s.blacklist[subject] = struct{}{}
	s.blacklistMu.Unlock()
	s.cache.Delete(subject)
}

// RemoveFromBlacklist removes a subject from the local blacklist and
// invalidates its cached verdict.
func (s *ReputationService) RemoveFromBlacklist(subject string) {
	s.blacklistMu.Lock()
	delete(s.blacklist, subject)
	s.blacklistMu.Unlock()
	s.cache.Delete(subject)
}

func (s *ReputationService) isBlacklisted(subject string) bool {
	s.blacklistMu.RLock()
	defer s.blacklistMu.RUnlock()
	_, ok := s.blacklist[subject]
	return ok
}
