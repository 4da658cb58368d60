package store

import "context"

// TranslationStore is the persistence contract for the translation
// cache: a key/value map from stable message id to previously computed
// translation. Entries are written once and read many times; concurrent
// writers racing on the same id are tolerated because translations for
// one id are deterministic enough for last-writer-wins.
type TranslationStore interface {
	// GetMany returns the cached translations for the given ids in one
	// batched read. Ids with no cached entry are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]string, error)

	// Upsert writes a translation for one id, replacing any existing
	// entry.
	Upsert(ctx context.Context, id, text string) error

	// Evict removes the entries for the given ids. Used when a thread
	// is archived elsewhere and its cached translations are no longer
	// wanted.
	Evict(ctx context.Context, ids []string) error
}
