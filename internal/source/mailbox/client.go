package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string, tls bool,
) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(
	_ context.Context,
) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			SourceName: c.username,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// SearchUIDs connects, selects the given mailbox, and runs a UID search
// with the given criteria. A failed SELECT after a successful login means
// the mailbox does not exist on this server and is reported as an
// UnavailableError.
func (c *IMAPClient) SearchUIDs(
	ctx context.Context,
	mailboxName string,
	criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailboxName, nil).Wait(); err != nil {
		return nil, &source.UnavailableError{
			SourceName: mailboxName,
			Message: fmt.Sprintf(
				"selecting mailbox %q: %v", mailboxName, err,
			),
		}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf(
			"searching mailbox %q: %w", mailboxName, err,
		)
	}

	return searchData.AllUIDs(), nil
}

// FetchMessages connects, selects the given mailbox, and fetches
// envelope, flags, and body for each UID. A message that fails to
// collect or parse is dropped with a logged warning; the rest of the
// batch is still returned.
func (c *IMAPClient) FetchMessages(
	ctx context.Context,
	mailboxName string,
	uids []imap.UID,
) ([]ParsedMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailboxName, nil).Wait(); err != nil {
		return nil, &source.UnavailableError{
			SourceName: mailboxName,
			Message: fmt.Sprintf(
				"selecting mailbox %q: %v", mailboxName, err,
			),
		}
	}

	uidSet := imap.UIDSetNum(uids...)

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)

	var messages []ParsedMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			log.Printf(
				"mailbox %q: dropping undecodable message: %v",
				mailboxName, err,
			)
			continue
		}

		parsed := ParsedMessage{Envelope: envelopeFromBuffer(buf)}

		rawBody := buf.FindBodySection(bodySection)
		if rawBody != nil {
			parsed.TextBody, parsed.HTMLBody = parseMIMEBody(rawBody)
		}

		messages = append(messages, parsed)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf(
			"fetching from mailbox %q: %w", mailboxName, err,
		)
	}

	return messages, nil
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.From = model.Address{
				Addr: from.Addr(),
				Name: from.Name,
			}
		}

		for _, to := range buf.Envelope.To {
			env.To = append(env.To, model.Address{
				Addr: to.Addr(),
				Name: to.Name,
			})
		}
	}

	for _, flag := range buf.Flags {
		env.Flags = append(env.Flags, string(flag))
	}

	return env
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message and
// extracts the text/plain and text/html bodies.
func parseMIMEBody(raw []byte) (textBody string, htmlBody string) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, try treating the whole thing as plain text
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}
