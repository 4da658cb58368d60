package mailbox

import (
	"time"

	"github.com/kangarko/inbox-engine/internal/model"
)

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	From      model.Address
	To        []model.Address
	Date      time.Time
	Flags     []string // \Seen, \Flagged, \Answered, \Deleted
	UID       uint32
}

// ParsedMessage holds the envelope plus the extracted plain-text body of
// one message.
type ParsedMessage struct {
	Envelope Envelope
	TextBody string
	HTMLBody string
}

// Seen reports whether the message carries the \Seen flag.
func (e Envelope) Seen() bool {
	for _, flag := range e.Flags {
		if flag == `\Seen` {
			return true
		}
	}
	return false
}
