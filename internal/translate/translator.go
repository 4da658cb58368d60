// Package translate produces a uniformly translated view of foreign-
// language message text while minimizing calls to the paid translation
// service. Translation is strictly best-effort: every failure path
// degrades to the original text and nothing here can fail the parent
// request.
package translate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/kangarko/inbox-engine/internal/store"
)

// segmentDelimiter separates batch items in the request and must come
// back unchanged, in order, between every translated segment. It is
// chosen to be extremely unlikely to occur in natural text: the
// segment-count equality check in translateBatch is the only integrity
// gate, so a source text that happened to contain the delimiter would
// silently corrupt segment alignment.
const segmentDelimiter = "\n@@@-----@@@\n"

// baseTokenBudget is the floor for the per-call token budget; the
// actual budget scales with input length.
const baseTokenBudget = 512

// Item is one unit of translatable text, keyed by the message's stable
// id (which doubles as the cache key).
type Item struct {
	ID   string
	Text string
}

// Service is the external translation backend: a single synchronous
// call accepting a system instruction and a user payload.
type Service interface {
	Complete(
		ctx context.Context, system, user string, maxTokens int,
	) (string, error)
}

// Translator runs the batch-then-fallback translation protocol against
// a Service, consulting a persistent cache first.
type Translator struct {
	cache          store.TranslationStore
	service        Service
	targetLanguage string
}

// New creates a Translator. The cache is injected rather than held as
// package state so tests can substitute an in-memory fake.
func New(
	cache store.TranslationStore,
	service Service,
	targetLanguage string,
) *Translator {
	if targetLanguage == "" {
		targetLanguage = "English"
	}
	return &Translator{
		cache:          cache,
		service:        service,
		targetLanguage: targetLanguage,
	}
}

// TranslateAll returns the final display text for every input item:
// the cached translation where one exists, a fresh translation where
// the service produced one, and the original text otherwise. Fresh
// translations that differ from their source are written to the cache;
// no-op and empty results are never cached.
func (t *Translator) TranslateAll(
	ctx context.Context, items []Item,
) map[string]string {
	output := make(map[string]string, len(items))
	if len(items) == 0 {
		return output
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	cached, err := t.cache.GetMany(ctx, ids)
	if err != nil {
		log.Printf("translation cache read failed, translating all: %v", err)
		cached = nil
	}

	var remaining []Item
	for _, item := range items {
		if text, ok := cached[item.ID]; ok {
			output[item.ID] = text
			continue
		}
		remaining = append(remaining, item)
	}

	switch len(remaining) {
	case 0:
	case 1:
		t.translateSingle(ctx, remaining[0], output)
	default:
		t.translateBatch(ctx, remaining, output)
	}

	return output
}

// translateSingle translates one item with a token budget scaled to its
// length. An identical or empty result keeps the original and is not
// cached.
func (t *Translator) translateSingle(
	ctx context.Context, item Item, output map[string]string,
) {
	system := fmt.Sprintf(
		"Translate the user's message to %s. "+
			"If it is already in %s, return it unchanged. "+
			"Return only the translated text with no commentary.",
		t.targetLanguage, t.targetLanguage,
	)

	translated, err := t.service.Complete(
		ctx, system, item.Text, tokenBudget(len(item.Text)),
	)
	if err != nil {
		log.Printf("translating message %s: %v", item.ID, err)
		output[item.ID] = item.Text
		return
	}

	translated = strings.TrimSpace(translated)
	if translated == "" || translated == item.Text {
		output[item.ID] = item.Text
		return
	}

	output[item.ID] = translated
	t.cacheWrite(ctx, item.ID, translated)
}

// translateBatch concatenates all texts with the segment delimiter and
// requires the response to contain exactly as many segments. On a count
// mismatch the whole batch falls back to original text, uncached.
func (t *Translator) translateBatch(
	ctx context.Context, items []Item, output map[string]string,
) {
	texts := make([]string, 0, len(items))
	totalLen := 0
	for _, item := range items {
		texts = append(texts, item.Text)
		totalLen += len(item.Text)
	}

	system := fmt.Sprintf(
		"Translate each of the following text segments to %s. "+
			"Segments are separated by the exact delimiter %q. "+
			"Keep the same delimiter between translated segments and "+
			"return exactly %d segments in the same order. "+
			"If a segment is already in %s, return it unchanged. "+
			"Return only the translated segments with no commentary.",
		t.targetLanguage, segmentDelimiter, len(items), t.targetLanguage,
	)

	response, err := t.service.Complete(
		ctx, system,
		strings.Join(texts, segmentDelimiter),
		tokenBudget(totalLen),
	)
	if err != nil {
		log.Printf("batch translation of %d messages: %v", len(items), err)
		fallback(items, output)
		return
	}

	segments := splitSegments(response)
	if len(segments) != len(items) {
		log.Printf(
			"batch translation segment count mismatch: sent %d, got %d; raw response: %q",
			len(items), len(segments), response,
		)
		fallback(items, output)
		return
	}

	// Segment i pairs with input i; order is the service's side of the
	// delimiter contract.
	for i, item := range items {
		translated := segments[i]
		if translated == "" || translated == item.Text {
			output[item.ID] = item.Text
			continue
		}
		output[item.ID] = translated
		t.cacheWrite(ctx, item.ID, translated)
	}
}

// splitSegments splits a batch response on the delimiter, trimming
// leading/trailing delimiter artifacts and dropping empty segments.
func splitSegments(response string) []string {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, strings.TrimSpace(segmentDelimiter))
	trimmed = strings.TrimSuffix(trimmed, strings.TrimSpace(segmentDelimiter))

	parts := strings.Split(trimmed, strings.TrimSpace(segmentDelimiter))

	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// fallback fills the output with each item's original text.
func fallback(items []Item, output map[string]string) {
	for _, item := range items {
		output[item.ID] = item.Text
	}
}

// cacheWrite persists one translation, logging rather than propagating
// failures.
func (t *Translator) cacheWrite(ctx context.Context, id, text string) {
	if err := t.cache.Upsert(ctx, id, text); err != nil {
		log.Printf("caching translation for %s: %v", id, err)
	}
}

// tokenBudget scales the completion budget to the input length. A rough
// chars-to-tokens ratio with generous headroom: translations can run
// longer than their source.
func tokenBudget(inputLen int) int {
	budget := baseTokenBudget + inputLen
	return budget
}
