package ports

import (
	"context"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// ReputationSource answers whether a subject is known-bad according to one
// external provider.
//
// The "malicious" threshold is baked into each adapter, not into the
// aggregator: the aggregator only trusts the verdict's IsMalicious boolean.
//
// Implementations:
//   - AbuseIPDB: HTTP API, confidence-score threshold
//   - FeedSource: local feed file, always maximal confidence
//
// Thread Safety: Implementations MUST be safe for concurrent Lookup calls.
type ReputationSource interface {
	// Lookup queries the source for a verdict. Failures are returned as
	// *domain.SourceUnavailableError so the aggregator can treat the source
	// as abstaining and fall through to the next one.
	Lookup(ctx context.Context, subject string) (*domain.IPReputation, error)

	// Name returns the source identifier used in verdicts, logs and metrics.
	Name() string
}

// GeoLocator resolves location context for event enrichment. Optional; a
// nil locator simply skips the geo fields.
type GeoLocator interface {
	Locate(subject string) (*domain.GeoInfo, error)
	Close() error
}
