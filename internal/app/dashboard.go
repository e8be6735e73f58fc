package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"reqboard/internal/board"
	"reqboard/internal/client"
	"reqboard/internal/domain"
	"reqboard/internal/journal"
	"reqboard/internal/notify"
	"reqboard/internal/session"
	"reqboard/internal/store"
)

// DefaultAPIURL is used when neither a flag nor REQBOARD_API_URL is set.
const DefaultAPIURL = "http://127.0.0.1:8080/api"

type Options struct {
	Workspace string
	APIURL    string
	AssumeYes bool
	In        io.Reader
	Out       io.Writer
	Logger    *slog.Logger
}

// Dashboard is the operator side: an API client with a persisted session,
// the request collection and the board synchronizer over it.
type Dashboard struct {
	Client   *client.Client
	Session  session.Provider
	Store    *store.Store
	Board    *board.Synchronizer
	Journal  *journal.Journal
	Notifier *notify.Terminal
}

func Open(opts Options) (*Dashboard, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	apiURL := strings.TrimSpace(opts.APIURL)
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	j, err := journal.Open(opts.Workspace)
	if err != nil {
		return nil, err
	}
	sess := session.NewFileProvider(opts.Workspace)
	c := client.New(apiURL, sess)
	notes := &notify.Terminal{In: opts.In, Out: opts.Out, AssumeYes: opts.AssumeYes}
	st := store.New(c, notes, store.WithLogger(opts.Logger))
	sync := &board.Synchronizer{
		API:        c,
		Collection: st,
		Notifier:   notes,
		Actor:      func() *domain.Actor { return session.ActorOf(sess) },
		Journal:    j,
		Logger:     opts.Logger,
	}
	return &Dashboard{Client: c, Session: sess, Store: st, Board: sync, Journal: j, Notifier: notes}, nil
}

// Close stops the board and releases the journal.
func (d *Dashboard) Close() error {
	d.Board.Close()
	return d.Journal.Close()
}

// ErrNotSignedIn is returned by commands that need a session.
var ErrNotSignedIn = errors.New("not signed in; run rb login")

// RequireSession returns the current session or ErrNotSignedIn.
func (d *Dashboard) RequireSession() (session.Session, error) {
	s, err := d.Session.Get()
	if errors.Is(err, session.ErrNoSession) {
		return session.Session{}, ErrNotSignedIn
	}
	return s, err
}

// Load refreshes the request collection. The store reports failures through
// the notifier and keeps its previous content.
func (d *Dashboard) Load(ctx context.Context) (store.Snapshot, error) {
	if _, err := d.RequireSession(); err != nil {
		return store.Snapshot{}, err
	}
	return d.Store.Refresh(ctx)
}
