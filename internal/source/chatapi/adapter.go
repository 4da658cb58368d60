package chatapi

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
)

// Adapter implements source.Source over the paginated messaging API.
type Adapter struct {
	client     *Client
	sourceName string
	pageSize   int
}

// NewAdapter creates a messaging-API source adapter.
func NewAdapter(baseURL, token, sourceName string, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Adapter{
		client:     NewClient(baseURL, token, sourceName),
		sourceName: sourceName,
		pageSize:   pageSize,
	}
}

// Name returns the logical source name.
func (a *Adapter) Name() string {
	return a.sourceName
}

// Search follows the paginated conversation listing for the counterpart
// and returns the ids of messages matching the criteria. When pagination
// halts mid-way, the handles collected so far are returned with a
// partial-result error.
func (a *Adapter) Search(
	ctx context.Context, c source.Criteria,
) ([]source.Handle, error) {
	if c.MatchField != source.MatchFrom && c.MatchField != source.MatchTo {
		return nil, fmt.Errorf("unsupported match field %q", c.MatchField)
	}

	path := "/v1/conversations/" + url.PathEscape(c.Value) + "/messages"

	messages, pageErr := a.client.FollowPages(ctx, path, a.pageSize)
	if pageErr != nil && !source.IsPartial(pageErr) {
		return nil, pageErr
	}

	var handles []source.Handle
	for _, msg := range messages {
		if !matches(msg, c) {
			continue
		}
		handles = append(handles, source.Handle(msg.ID))
	}

	// pageErr is either nil or a PageError wrapping the collected set.
	return handles, pageErr
}

// FetchBatch resolves message-id handles through the batched fetch
// endpoint. Records the platform omits from the response (deleted or
// undecodable messages) are dropped with a logged warning.
func (a *Adapter) FetchBatch(
	ctx context.Context, handles []source.Handle,
) ([]model.RawMessage, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, url.QueryEscape(string(h)))
	}
	path := "/v1/messages?ids=" + strings.Join(ids, ",")

	var batch MessageBatch
	if err := a.client.Get(ctx, path, &batch); err != nil {
		return nil, err
	}
	if batch.Error != nil {
		return nil, fmt.Errorf(
			"platform error %d (%s): %s",
			batch.Error.Code, batch.Error.Type, batch.Error.Message,
		)
	}

	if len(batch.Data) < len(handles) {
		log.Printf(
			"chatapi %q: batch fetch returned %d of %d requested messages",
			a.sourceName, len(batch.Data), len(handles),
		)
	}

	messages := make([]model.RawMessage, 0, len(batch.Data))
	for _, msg := range batch.Data {
		messages = append(messages, a.toRawMessage(msg))
	}
	return messages, nil
}

// matches reports whether a message satisfies the counterpart criteria.
// Platform ids are case-sensitive and compared verbatim.
func matches(msg Message, c source.Criteria) bool {
	switch c.MatchField {
	case source.MatchFrom:
		return msg.From.ID == c.Value
	case source.MatchTo:
		for _, to := range msg.To {
			if to.ID == c.Value {
				return true
			}
		}
	}
	return false
}

// toRawMessage converts a platform message into the source-neutral
// record. The platform message id doubles as the stable id.
func (a *Adapter) toRawMessage(msg Message) model.RawMessage {
	recipients := make([]model.Address, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, model.Address{
			Addr: to.ID,
			Name: to.Name,
		})
	}

	snippet := msg.Snippet
	if snippet == "" {
		snippet = msg.Text
	}

	return model.RawMessage{
		SourceName:      a.sourceName,
		SourceMessageID: msg.ID,
		StableMessageID: msg.ID,
		Sender: model.Address{
			Addr: msg.From.ID,
			Name: msg.From.Name,
		},
		Recipients:       recipients,
		SubjectOrSnippet: snippet,
		BodyText:         msg.Text,
		Timestamp:        epochMsToTime(msg.CreatedAt),
		Read:             msg.Read,
	}
}

// epochMsToTime converts a Unix epoch millisecond timestamp to time.Time.
func epochMsToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
