package model

import (
	"strings"
	"time"
)

// Address is one address/display-name pair on a message.
type Address struct {
	// Addr is the raw address or platform id.
	Addr string

	// Name is the optional human-readable display name.
	Name string
}

// RawMessage is one physical message record fetched from a source.
// Instances are created by a source adapter at fetch time, are immutable,
// and never outlive the request that produced them.
type RawMessage struct {
	// SourceName identifies which configured source produced this record.
	SourceName string

	// SourceMessageID is the backend's own identifier (IMAP UID, API
	// message id). Unique within a source, not stable across sources.
	SourceMessageID string

	// StableMessageID is the protocol-level identifier (Message-ID header
	// or platform message id) used for deduplication and as the
	// translation-cache key. May be empty; use StableID for lookups.
	StableMessageID string

	Sender     Address
	Recipients []Address

	// SubjectOrSnippet is the subject line or a message preview.
	SubjectOrSnippet string

	// BodyText is the plain-text body. Messages with an empty body are
	// never translated.
	BodyText string

	Timestamp time.Time
	Read      bool
}

// StableID returns the deduplication/cache key for the message. When the
// backend supplied no protocol-level identifier, a synthetic id is derived
// from the source name and the per-source message id.
func (m RawMessage) StableID() string {
	if m.StableMessageID != "" {
		return m.StableMessageID
	}
	return m.SourceName + ":" + m.SourceMessageID
}

// ThreadSummary is one row in a thread list view, keyed by the
// counterpart's address or platform id.
type ThreadSummary struct {
	// ThreadKey is the counterpart address/id and the thread's stable
	// identity. Lower-cased for mailbox addresses, verbatim for
	// platform ids.
	ThreadKey string

	CounterpartName  string
	SubjectOrSnippet string
	LatestTimestamp  time.Time
	UnreadCount      int
}

// EnrichedMessage is a RawMessage plus its translated body. TranslatedText
// equals BodyText when translation was skipped, failed, or produced an
// identical result.
type EnrichedMessage struct {
	RawMessage

	TranslatedText string
}

// Conversation is the full ordered exchange with one counterpart,
// ascending by timestamp with stable ties.
type Conversation struct {
	ThreadKey string
	Messages  []EnrichedMessage
}

// NormalizeThreadKey canonicalizes a counterpart identifier for use as a
// thread key. Mailbox addresses are case-insensitive per RFC practice;
// platform ids are case-sensitive and pass through verbatim.
func NormalizeThreadKey(id string) string {
	if strings.Contains(id, "@") {
		return strings.ToLower(id)
	}
	return id
}
