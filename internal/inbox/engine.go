// Package inbox is the aggregation engine facade: it fans a request out
// across the configured sources, rebuilds conversation views, and runs
// the best-effort translation pass.
package inbox

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kangarko/inbox-engine/internal/fetch"
	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
	"github.com/kangarko/inbox-engine/internal/store"
	"github.com/kangarko/inbox-engine/internal/thread"
	"github.com/kangarko/inbox-engine/internal/translate"
)

// OperationError is the only failure shape that crosses the engine
// boundary. Its message is deliberately generic; the underlying cause
// is logged against the correlation id and available via Unwrap for
// in-process callers.
type OperationError struct {
	CorrelationID string
	cause         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("could not complete the request (ref %s)", e.CorrelationID)
}

func (e *OperationError) Unwrap() error { return e.cause }

// Engine ties the fetch, thread, and translate pipelines together.
type Engine struct {
	fetcher         *fetch.Fetcher
	translator      *translate.Translator
	cache           store.TranslationStore
	operatorAddress string
}

// New creates an Engine. The operator address identifies the inbox
// owner; their own messages are never grouped into threads or sent for
// translation.
func New(
	fetcher *fetch.Fetcher,
	translator *translate.Translator,
	cache store.TranslationStore,
	operatorAddress string,
) *Engine {
	return &Engine{
		fetcher:         fetcher,
		translator:      translator,
		cache:           cache,
		operatorAddress: operatorAddress,
	}
}

// ListThreads produces the thread list view from the canonical received
// stream: one summary row per counterpart, newest first.
func (e *Engine) ListThreads(
	ctx context.Context,
) ([]model.ThreadSummary, error) {
	messages, err := e.fetcher.FetchPrimary(ctx, source.Criteria{
		MatchField: source.MatchTo,
		Value:      e.operatorAddress,
	})
	if err != nil {
		return nil, e.fail("listing threads", err)
	}

	return thread.Summaries(messages, e.operatorAddress), nil
}

// Conversation produces the full ordered conversation with one
// counterpart across all configured sources, with counterpart messages
// translated where possible.
func (e *Engine) Conversation(
	ctx context.Context, counterpart string,
) (*model.Conversation, error) {
	// FetchAll covers the fetching, merging, and deduplicating stages;
	// any critical-source failure inside it short-circuits the rest of
	// the pipeline.
	messages, err := e.fetcher.FetchAll(ctx, counterpart)
	if err != nil {
		return nil, e.fail(
			fmt.Sprintf("conversation with %q", counterpart), err,
		)
	}

	conv := thread.BuildConversation(counterpart, messages)

	log.Printf("fetch %q: %s", counterpart, fetch.StageTranslating)
	e.applyTranslations(ctx, &conv)
	log.Printf("fetch %q: %s", counterpart, fetch.StageDone)

	return &conv, nil
}

// EvictTranslations drops cached translations for the given message
// ids. Called by collaborators when a thread is archived and its cached
// content is no longer wanted.
func (e *Engine) EvictTranslations(ctx context.Context, ids []string) error {
	if err := e.cache.Evict(ctx, ids); err != nil {
		return e.fail("evicting translations", err)
	}
	return nil
}

// applyTranslations sends the counterpart's non-empty messages through
// the translator and overwrites their display text. Errors inside the
// translator are already degraded to original text, so this can never
// fail the conversation.
func (e *Engine) applyTranslations(
	ctx context.Context, conv *model.Conversation,
) {
	operator := model.NormalizeThreadKey(e.operatorAddress)

	var items []translate.Item
	for _, msg := range conv.Messages {
		if model.NormalizeThreadKey(msg.Sender.Addr) == operator {
			continue
		}
		if msg.BodyText == "" {
			continue
		}
		items = append(items, translate.Item{
			ID:   msg.StableID(),
			Text: msg.BodyText,
		})
	}
	if len(items) == 0 {
		return
	}

	translated := e.translator.TranslateAll(ctx, items)

	for i := range conv.Messages {
		if text, ok := translated[conv.Messages[i].StableID()]; ok {
			conv.Messages[i].TranslatedText = text
		}
	}
}

// fail logs the underlying cause against a fresh correlation id and
// returns the generic operation error carrying that id.
func (e *Engine) fail(what string, cause error) error {
	id := uuid.New().String()
	log.Printf("[%s] %s: %v", id, what, cause)
	return &OperationError{CorrelationID: id, cause: cause}
}
