// Package thread turns flat per-message records into conversation views.
package thread

import (
	"sort"

	"github.com/kangarko/inbox-engine/internal/model"
)

// Summaries groups raw messages from the canonical received stream by
// sender and produces one summary row per counterpart, sorted descending
// by latest message time.
//
// Messages sent by the operator are excluded. For each counterpart the
// most recent (timestamp, subject) pair wins; on equal timestamps the
// first-seen record is kept. The unread count is a running total over
// the raw records, so a message that legitimately appears in two
// physical stores has already been deduplicated away by the fetch layer
// and counts once.
func Summaries(
	messages []model.RawMessage, operatorAddress string,
) []model.ThreadSummary {
	operator := model.NormalizeThreadKey(operatorAddress)

	byKey := make(map[string]*model.ThreadSummary)
	var order []string

	for _, msg := range messages {
		key := model.NormalizeThreadKey(msg.Sender.Addr)
		if key == "" || key == operator {
			continue
		}

		summary, ok := byKey[key]
		if !ok {
			summary = &model.ThreadSummary{
				ThreadKey:        key,
				CounterpartName:  msg.Sender.Name,
				SubjectOrSnippet: msg.SubjectOrSnippet,
				LatestTimestamp:  msg.Timestamp,
			}
			byKey[key] = summary
			order = append(order, key)
		} else if msg.Timestamp.After(summary.LatestTimestamp) {
			// Strictly after: equal timestamps keep the first-seen
			// record.
			summary.LatestTimestamp = msg.Timestamp
			summary.SubjectOrSnippet = msg.SubjectOrSnippet
			if msg.Sender.Name != "" {
				summary.CounterpartName = msg.Sender.Name
			}
		}

		if !msg.Read {
			summary.UnreadCount++
		}
	}

	summaries := make([]model.ThreadSummary, 0, len(byKey))
	for _, key := range order {
		summaries = append(summaries, *byKey[key])
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LatestTimestamp.After(
			summaries[j].LatestTimestamp,
		)
	})

	return summaries
}

// BuildConversation orders the deduplicated merge for one counterpart
// ascending by timestamp. Ties keep their original fetch order (stable
// sort). Every message starts with its translated text equal to the
// original body; the translation pass overwrites it where a translation
// exists.
func BuildConversation(
	threadKey string, messages []model.RawMessage,
) model.Conversation {
	enriched := make([]model.EnrichedMessage, 0, len(messages))
	for _, msg := range messages {
		enriched = append(enriched, model.EnrichedMessage{
			RawMessage:     msg,
			TranslatedText: msg.BodyText,
		})
	}

	sort.SliceStable(enriched, func(i, j int) bool {
		return enriched[i].Timestamp.Before(enriched[j].Timestamp)
	})

	return model.Conversation{
		ThreadKey: model.NormalizeThreadKey(threadKey),
		Messages:  enriched,
	}
}
