package inbox

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/kangarko/inbox-engine/internal/credential"
	"github.com/kangarko/inbox-engine/internal/fetch"
	"github.com/kangarko/inbox-engine/internal/model"
	"github.com/kangarko/inbox-engine/internal/source"
	"github.com/kangarko/inbox-engine/internal/source/chatapi"
	"github.com/kangarko/inbox-engine/internal/source/mailbox"
	"github.com/kangarko/inbox-engine/internal/store"
	"github.com/kangarko/inbox-engine/internal/translate"
)

// FromConfig builds a fully wired Engine from the application
// configuration. Source credentials and the translation API key are
// loaded from the system keyring. A source whose credential is missing
// is skipped with a logged warning unless it is critical, in which case
// construction fails.
func FromConfig(cfg *model.AppConfig) (*Engine, error) {
	cache, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening translation cache: %w", err)
	}

	var sources []fetch.ConfiguredSource
	var conn *mailbox.Connection

	for _, src := range cfg.Sources {
		adapter, err := buildAdapter(src, &conn)
		if err != nil {
			if src.Critical {
				return nil, fmt.Errorf(
					"configuring critical source %q: %w", src.Name, err,
				)
			}
			log.Printf("skipping optional source %q: %v", src.Name, err)
			continue
		}

		sources = append(sources, fetch.ConfiguredSource{
			Source:   adapter,
			Critical: src.Critical,
			Match:    matchField(src),
		})
	}

	apiKey, err := credential.Get("translation")
	if err != nil {
		// The engine still works without a translation key; every
		// message falls back to its original text.
		log.Printf("translation credential not found, translation disabled: %v", err)
		apiKey = ""
	}

	translator := translate.New(
		cache,
		translate.NewClient(
			cfg.Translation.BaseURL, apiKey, cfg.Translation.Model,
		),
		cfg.Translation.TargetLanguage,
	)

	timeout := time.Duration(cfg.Fetch.SourceTimeoutSec) * time.Second
	fetcher := fetch.New(sources, timeout)

	return New(fetcher, translator, cache, cfg.OperatorAddress), nil
}

// buildAdapter constructs the right adapter for one source config. All
// mailbox sources of one account share a Connection so their
// per-mailbox locks are held in common.
func buildAdapter(
	src model.SourceConfig, conn **mailbox.Connection,
) (source.Source, error) {
	switch src.Type {
	case "mailbox":
		password, err := credential.Get("mailbox-" + src.ID)
		if err != nil {
			return nil, fmt.Errorf("credential not found: %w", err)
		}

		if *conn == nil {
			useTLS := src.Config["use_tls"] != "false"
			*conn = mailbox.NewConnection(
				src.Config["imap_host"],
				src.Config["imap_port"],
				src.Config["username"],
				password,
				useTLS,
			)
		}

		mailboxName := src.Config["mailbox"]
		if mailboxName == "" {
			mailboxName = "INBOX"
		}
		return mailbox.NewAdapter(*conn, src.Name, mailboxName), nil

	case "chatapi":
		token, err := credential.Get("chatapi-" + src.ID)
		if err != nil {
			return nil, fmt.Errorf("credential not found: %w", err)
		}

		pageSize, _ := strconv.Atoi(src.Config["page_size"])
		return chatapi.NewAdapter(
			src.BaseURL, token, src.Name, pageSize,
		), nil

	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

// matchField resolves which side of a message a source is queried by.
// The received stream is searched by sender, sent folders by recipient.
func matchField(src model.SourceConfig) source.MatchField {
	switch src.Config["match"] {
	case "to":
		return source.MatchTo
	case "from":
		return source.MatchFrom
	}
	if src.Critical {
		return source.MatchFrom
	}
	return source.MatchTo
}
