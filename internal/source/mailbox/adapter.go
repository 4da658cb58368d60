package mailbox

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"

	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
)

// lockTable hands out one exclusive mutex per mailbox name. A lock is
// held only for the duration of a single search or fetch operation; a
// leaked lock would permanently deny that mailbox to later requests, so
// all acquisitions release via defer.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for the named mailbox and returns its unlock
// function.
func (t *lockTable) acquire(name string) func() {
	t.mu.Lock()
	l, ok := t.locks[name]
	if !ok {
		l = &sync.Mutex{}
		t.locks[name] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Adapter implements source.Source over one IMAP mailbox.
type Adapter struct {
	client      *IMAPClient
	sourceName  string
	mailboxName string
	locks       *lockTable
}

// NewAdapter creates a mailbox source adapter for one logical mailbox
// (e.g., "INBOX", "Sent"). Adapters created from the same Connection
// share the per-mailbox lock table.
func NewAdapter(
	conn *Connection, sourceName, mailboxName string,
) *Adapter {
	return &Adapter{
		client:      conn.client,
		sourceName:  sourceName,
		mailboxName: mailboxName,
		locks:       conn.locks,
	}
}

// Connection groups adapters that talk to the same IMAP account and own
// a shared per-mailbox lock table.
type Connection struct {
	client *IMAPClient
	locks  *lockTable
}

// NewConnection creates a Connection for one IMAP account.
func NewConnection(
	host, port, username, password string, useTLS bool,
) *Connection {
	return &Connection{
		client: NewIMAPClient(host, port, username, password, useTLS),
		locks:  newLockTable(),
	}
}

// Name returns the logical source name.
func (a *Adapter) Name() string {
	return a.sourceName
}

// Search maps the criteria to an IMAP header search and returns the
// matching UIDs as handles.
func (a *Adapter) Search(
	ctx context.Context, c source.Criteria,
) ([]source.Handle, error) {
	criteria, err := searchCriteria(c)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.acquire(a.mailboxName)
	defer unlock()

	uids, err := a.client.SearchUIDs(ctx, a.mailboxName, criteria)
	if err != nil {
		return nil, err
	}

	handles := make([]source.Handle, 0, len(uids))
	for _, uid := range uids {
		handles = append(handles, source.Handle(
			strconv.FormatUint(uint64(uid), 10),
		))
	}
	return handles, nil
}

// FetchBatch resolves UID handles into parsed messages. Handles that do
// not parse as UIDs, and messages that fail to decode, are dropped; the
// rest of the batch is returned.
func (a *Adapter) FetchBatch(
	ctx context.Context, handles []source.Handle,
) ([]model.RawMessage, error) {
	uids := make([]imap.UID, 0, len(handles))
	for _, h := range handles {
		uid, err := strconv.ParseUint(string(h), 10, 32)
		if err != nil {
			continue
		}
		uids = append(uids, imap.UID(uid))
	}
	if len(uids) == 0 {
		return nil, nil
	}

	unlock := a.locks.acquire(a.mailboxName)
	defer unlock()

	parsed, err := a.client.FetchMessages(ctx, a.mailboxName, uids)
	if err != nil {
		return nil, err
	}

	messages := make([]model.RawMessage, 0, len(parsed))
	for _, pm := range parsed {
		messages = append(messages, a.toRawMessage(pm))
	}
	return messages, nil
}

// searchCriteria maps the generic criteria to IMAP SEARCH header fields.
func searchCriteria(c source.Criteria) (*imap.SearchCriteria, error) {
	var key string
	switch c.MatchField {
	case source.MatchFrom:
		key = "From"
	case source.MatchTo:
		key = "To"
	default:
		return nil, fmt.Errorf(
			"unsupported match field %q", c.MatchField,
		)
	}

	return &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: key, Value: c.Value},
		},
	}, nil
}

// toRawMessage converts a parsed IMAP message into the source-neutral
// record.
func (a *Adapter) toRawMessage(pm ParsedMessage) model.RawMessage {
	body := pm.TextBody
	if body == "" && pm.HTMLBody != "" {
		body = stripHTML(pm.HTMLBody)
	}

	return model.RawMessage{
		SourceName: a.sourceName,
		SourceMessageID: strconv.FormatUint(
			uint64(pm.Envelope.UID), 10,
		),
		StableMessageID:  pm.Envelope.MessageID,
		Sender:           pm.Envelope.From,
		Recipients:       pm.Envelope.To,
		SubjectOrSnippet: pm.Envelope.Subject,
		BodyText:         body,
		Timestamp:        pm.Envelope.Date,
		Read:             pm.Envelope.Seen(),
	}
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
