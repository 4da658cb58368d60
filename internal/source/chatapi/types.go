package chatapi

// Participant identifies one party on a platform message.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one message record as returned by the messaging API.
// CreatedAt is a Unix epoch millisecond timestamp.
type Message struct {
	ID        string        `json:"id"`
	From      Participant   `json:"from"`
	To        []Participant `json:"to"`
	Text      string        `json:"text"`
	Snippet   string        `json:"snippet,omitempty"`
	CreatedAt int64         `json:"created_at"`
	Read      bool          `json:"read"`
}

// MessagePage is one page of a paginated message listing. A non-nil
// Error means the platform rejected this page at the application level
// even though the HTTP request succeeded.
type MessagePage struct {
	Data   []Message `json:"data"`
	Paging Paging    `json:"paging"`
	Error  *APIError `json:"error,omitempty"`
}

// Paging carries the cursor for the next page; empty when this is the
// last page.
type Paging struct {
	Next string `json:"next"`
}

// MessageBatch is the response of a batched fetch-by-ids call.
type MessageBatch struct {
	Data  []Message `json:"data"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is the platform's application-level error object.
type APIError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}
