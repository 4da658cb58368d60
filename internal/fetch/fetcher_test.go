package fetch

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
)

// fakeSource is a scripted source.Source for fetcher tests.
type fakeSource struct {
	name      string
	messages  []model.RawMessage
	searchErr error
	fetchErr  error
	delay     time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(
	ctx context.Context, _ source.Criteria,
) ([]source.Handle, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	handles := make([]source.Handle, len(f.messages))
	for i := range f.messages {
		handles[i] = source.Handle(strconv.Itoa(i))
	}
	return handles, nil
}

func (f *fakeSource) FetchBatch(
	_ context.Context, handles []source.Handle,
) ([]model.RawMessage, error) {
	if f.fetchErr != nil && !source.IsPartial(f.fetchErr) {
		return nil, f.fetchErr
	}
	out := make([]model.RawMessage, 0, len(handles))
	for _, h := range handles {
		i, _ := strconv.Atoi(string(h))
		out = append(out, f.messages[i])
	}
	return out, f.fetchErr
}

func rawMsg(source, id string, stable string) model.RawMessage {
	return model.RawMessage{
		SourceName:      source,
		SourceMessageID: id,
		StableMessageID: stable,
		Sender:          model.Address{Addr: "a@x.com"},
		Timestamp:       time.Now(),
	}
}

func TestFetchAll_DeduplicatesFirstSourceWins(t *testing.T) {
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
		rawMsg("inbox", "2", "m2"),
	}}
	secondary := &fakeSource{name: "sent", messages: []model.RawMessage{
		rawMsg("sent", "9", "m1"), // duplicate of inbox m1
		rawMsg("sent", "10", "m3"),
	}}

	f := New([]ConfiguredSource{
		{Source: primary, Critical: true, Match: source.MatchFrom},
		{Source: secondary, Match: source.MatchTo},
	}, time.Second)

	merged, err := f.FetchAll(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(merged) != 3 {
		t.Fatalf("expected 3 messages after dedup, got %d", len(merged))
	}

	// First occurrence wins: m1 must come from inbox.
	for _, m := range merged {
		if m.StableMessageID == "m1" && m.SourceName != "inbox" {
			t.Errorf("duplicate m1 kept from %s, want inbox", m.SourceName)
		}
	}
}

func TestFetchAll_OptionalUnavailableSkipped(t *testing.T) {
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
	}}
	missing := &fakeSource{
		name: "legacy-sent",
		searchErr: &source.UnavailableError{
			SourceName: "legacy-sent", Message: "no such mailbox",
		},
	}

	f := New([]ConfiguredSource{
		{Source: primary, Critical: true, Match: source.MatchFrom},
		{Source: missing, Match: source.MatchTo},
	}, time.Second)

	merged, err := f.FetchAll(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("optional unavailable source should not fail: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 message from remaining source, got %d", len(merged))
	}
}

func TestFetchAll_CriticalUnavailableFatal(t *testing.T) {
	missing := &fakeSource{
		name: "inbox",
		searchErr: &source.UnavailableError{
			SourceName: "inbox", Message: "no such mailbox",
		},
	}
	secondary := &fakeSource{name: "sent", messages: []model.RawMessage{
		rawMsg("sent", "1", "m1"),
	}}

	f := New([]ConfiguredSource{
		{Source: missing, Critical: true, Match: source.MatchFrom},
		{Source: secondary, Match: source.MatchTo},
	}, time.Second)

	_, err := f.FetchAll(context.Background(), "a@x.com")
	if err == nil {
		t.Fatal("critical unavailable source must fail the operation")
	}
	if !source.IsUnavailable(err) {
		t.Errorf("error should wrap the UnavailableError, got %v", err)
	}
}

func TestFetchAll_OptionalSourceErrorSkipped(t *testing.T) {
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
	}}
	broken := &fakeSource{
		name:      "sent",
		searchErr: errors.New("connection reset"),
	}

	f := New([]ConfiguredSource{
		{Source: primary, Critical: true, Match: source.MatchFrom},
		{Source: broken, Match: source.MatchTo},
	}, time.Second)

	merged, err := f.FetchAll(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("optional source error should degrade, not fail: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 message, got %d", len(merged))
	}
}

func TestFetchAll_PartialPageResultKept(t *testing.T) {
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
	}}
	partial := &fakeSource{
		name: "feed",
		messages: []model.RawMessage{
			rawMsg("feed", "2", "m2"),
		},
		fetchErr: &source.PageError{
			SourceName: "feed", Page: 3,
			Err: errors.New("timeout on page 3"),
		},
	}

	f := New([]ConfiguredSource{
		{Source: primary, Critical: true, Match: source.MatchFrom},
		{Source: partial, Match: source.MatchFrom},
	}, time.Second)

	merged, err := f.FetchAll(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("partial page result should not fail: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected partial results to be kept, got %d messages", len(merged))
	}
}

func TestFetchAll_TimedOutOptionalSkipped(t *testing.T) {
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
	}}
	slow := &fakeSource{
		name:  "sent",
		delay: 500 * time.Millisecond,
		messages: []model.RawMessage{
			rawMsg("sent", "2", "m2"),
		},
	}

	f := New([]ConfiguredSource{
		{Source: primary, Critical: true, Match: source.MatchFrom},
		{Source: slow, Match: source.MatchTo},
	}, 50*time.Millisecond)

	merged, err := f.FetchAll(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("timed-out optional source should be skipped: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 message, got %d", len(merged))
	}
}

func TestFetchAll_TimedOutCriticalFatal(t *testing.T) {
	slow := &fakeSource{
		name:  "inbox",
		delay: 500 * time.Millisecond,
		messages: []model.RawMessage{
			rawMsg("inbox", "1", "m1"),
		},
	}

	f := New([]ConfiguredSource{
		{Source: slow, Critical: true, Match: source.MatchFrom},
	}, 50*time.Millisecond)

	_, err := f.FetchAll(context.Background(), "a@x.com")
	if err == nil {
		t.Fatal("timed-out critical source must fail the operation")
	}
}

func TestFetchPrimary_UsesFirstCriticalSource(t *testing.T) {
	optional := &fakeSource{name: "sent", messages: []model.RawMessage{
		rawMsg("sent", "1", "m1"),
	}}
	primary := &fakeSource{name: "inbox", messages: []model.RawMessage{
		rawMsg("inbox", "2", "m2"),
	}}

	f := New([]ConfiguredSource{
		{Source: optional, Match: source.MatchTo},
		{Source: primary, Critical: true, Match: source.MatchFrom},
	}, time.Second)

	messages, err := f.FetchPrimary(context.Background(), source.Criteria{
		MatchField: source.MatchTo, Value: "me@x.com",
	})
	if err != nil {
		t.Fatalf("FetchPrimary: %v", err)
	}
	if len(messages) != 1 || messages[0].SourceName != "inbox" {
		t.Fatalf("expected primary-source messages only, got %+v", messages)
	}
}

func TestDeduplicate_SyntheticIDs(t *testing.T) {
	// Messages with no stable id fall back to source+sourceMessageId,
	// so the same per-source id in two sources is NOT a duplicate.
	messages := []model.RawMessage{
		rawMsg("inbox", "1", ""),
		rawMsg("sent", "1", ""),
		rawMsg("inbox", "1", ""), // genuine duplicate
	}

	deduped := Deduplicate(messages)
	if len(deduped) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(deduped))
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	messages := []model.RawMessage{
		rawMsg("inbox", "1", "m1"),
		rawMsg("sent", "2", "m1"),
		rawMsg("sent", "3", "m2"),
	}

	once := Deduplicate(messages)
	twice := Deduplicate(once)
	if len(once) != len(twice) {
		t.Fatalf("dedup not idempotent: %d vs %d", len(once), len(twice))
	}
}
