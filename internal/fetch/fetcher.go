// Package fetch runs one logical counterpart query against an ordered
// list of configured sources, merging and deduplicating the results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
)

// defaultSourceTimeout bounds a single source's search+fetch so a hung
// source cannot block the others from contributing.
const defaultSourceTimeout = 30 * time.Second

// Stage tracks where one aggregation fetch is in its pipeline. Any
// critical-source failure during StageFetching moves directly to
// StageFailed, short-circuiting the later stages. StageTranslating is a
// sub-pipeline owned by the caller and can never itself move the
// operation to StageFailed.
type Stage int

const (
	StageIdle Stage = iota
	StageFetching
	StageMerging
	StageDeduplicating
	StageTranslating
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageFetching:
		return "fetching"
	case StageMerging:
		return "merging"
	case StageDeduplicating:
		return "deduplicating"
	case StageTranslating:
		return "translating"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConfiguredSource pairs a source adapter with its criticality and the
// match field used when querying it for a counterpart: the inbox is
// searched by sender, sent folders by recipient. An unavailable or
// timed-out critical source fails the whole operation; an optional one
// is logged and skipped.
type ConfiguredSource struct {
	Source   source.Source
	Critical bool
	Match    source.MatchField
}

// Fetcher fans one query out across all configured sources.
type Fetcher struct {
	sources []ConfiguredSource
	timeout time.Duration
}

// New creates a Fetcher over an ordered source list. Order matters:
// when the same stable message id appears in several sources, the
// earliest-listed source wins.
func New(sources []ConfiguredSource, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	return &Fetcher{sources: sources, timeout: timeout}
}

// FetchAll runs the counterpart query against every configured source
// concurrently, each with its own match field, then merges the results
// in source order and deduplicates them by stable message id. Failures
// on optional sources are logged and skipped; a failure or timeout on a
// critical source aborts the whole operation.
func (f *Fetcher) FetchAll(
	ctx context.Context, counterpart string,
) ([]model.RawMessage, error) {
	stage := StageFetching
	log.Printf("fetch %q: %s (%d sources)", counterpart, stage, len(f.sources))

	results := make([][]model.RawMessage, len(f.sources))
	errs := make([]error, len(f.sources))

	var wg sync.WaitGroup
	for i, entry := range f.sources {
		wg.Add(1)
		go func(i int, entry ConfiguredSource) {
			defer wg.Done()

			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			c := source.Criteria{
				MatchField: entry.Match,
				Value:      counterpart,
			}
			results[i], errs[i] = fetchFrom(sctx, entry.Source, c)
		}(i, entry)
	}
	wg.Wait()

	// Merge in configured order so first-source-wins dedup is
	// deterministic regardless of goroutine completion order.
	stage = StageMerging
	var merged []model.RawMessage
	for i, entry := range f.sources {
		name := entry.Source.Name()
		err := errs[i]

		switch {
		case err == nil:
			merged = append(merged, results[i]...)

		case source.IsPartial(err):
			log.Printf(
				"source %q: keeping %d messages from partial result: %v",
				name, len(results[i]), err,
			)
			merged = append(merged, results[i]...)

		case entry.Critical:
			stage = StageFailed
			log.Printf("fetch %q: %s on critical source %q", counterpart, stage, name)
			return nil, fmt.Errorf("critical source %q: %w", name, err)

		default:
			// A timed-out optional source is treated the same as an
			// unavailable one.
			log.Printf("skipping optional source %q: %v", name, err)
		}
	}

	stage = StageDeduplicating
	deduped := Deduplicate(merged)
	if len(deduped) < len(merged) {
		log.Printf(
			"fetch %q: %s dropped %d duplicates",
			counterpart, stage, len(merged)-len(deduped),
		)
	}

	return deduped, nil
}

// FetchPrimary runs the query against the first critical source only.
// This is the canonical "received" stream consumed by the thread list
// view.
func (f *Fetcher) FetchPrimary(
	ctx context.Context, c source.Criteria,
) ([]model.RawMessage, error) {
	for _, entry := range f.sources {
		if !entry.Critical {
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		messages, err := fetchFrom(sctx, entry.Source, c)
		if err != nil && !source.IsPartial(err) {
			return nil, fmt.Errorf(
				"critical source %q: %w", entry.Source.Name(), err,
			)
		}
		return Deduplicate(messages), nil
	}

	return nil, errors.New("no critical source configured")
}

// fetchFrom runs search then batch fetch on one source. A partial
// pagination result from either step still yields the collected
// messages alongside the partial error.
func fetchFrom(
	ctx context.Context, src source.Source, c source.Criteria,
) ([]model.RawMessage, error) {
	handles, err := src.Search(ctx, c)
	if err != nil && !source.IsPartial(err) {
		return nil, err
	}
	searchErr := err

	if len(handles) == 0 {
		return nil, searchErr
	}

	messages, err := src.FetchBatch(ctx, handles)
	if err != nil {
		return messages, err
	}
	return messages, searchErr
}

// Deduplicate removes messages whose stable id was already seen,
// keeping the first occurrence. Later duplicates from a different
// source are discarded entirely: they count neither toward unread
// totals nor toward threading.
func Deduplicate(messages []model.RawMessage) []model.RawMessage {
	seen := make(map[string]bool, len(messages))
	deduped := make([]model.RawMessage, 0, len(messages))

	for _, msg := range messages {
		key := msg.StableID()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, msg)
	}

	return deduped
}
