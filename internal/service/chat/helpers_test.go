package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"multichat/internal/config"
	"multichat/internal/domain/repositories"
	"multichat/internal/domain/services"
	"multichat/internal/embedding"
	chromemstore "multichat/internal/repository/chromem"
	"multichat/internal/service/auth"
)

// testEnv wires a service over a real in-memory chromem store
type testEnv struct {
	store      repositories.MetadataStore
	registry   *Registry
	ledger     *Ledger
	namer      *AutoNamer
	summarizer *fakeSummarizer
	service    services.ChatService
}

type envOptions struct {
	settings   config.ChatSettings
	store      func(repositories.MetadataStore) repositories.MetadataStore
	now        func() time.Time
	summarizer *fakeSummarizer
	// summarizeTimeout overrides the one second auto-namer timeout
	summarizeTimeout time.Duration
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChromemStore(t *testing.T) repositories.MetadataStore {
	t.Helper()
	store, err := chromemstore.New(64, quietLogger())
	if err != nil {
		t.Fatalf("chromem.New() error = %v", err)
	}
	return store
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	return newTestEnvOnStore(t, newChromemStore(t), opts)
}

func newTestEnvOnStore(t *testing.T, base repositories.MetadataStore, opts envOptions) *testEnv {
	t.Helper()

	if opts.settings == (config.ChatSettings{}) {
		opts.settings = config.DefaultChatSettings()
	}
	store := base
	if opts.store != nil {
		store = opts.store(base)
	}
	if opts.summarizer == nil {
		opts.summarizer = &fakeSummarizer{title: "Generated Title"}
	}
	if opts.now == nil {
		opts.now = newTickingClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)).Now
	}

	logger := quietLogger()
	registry, err := NewRegistry(RegistryConfig{
		Store:              store,
		Embedder:           embedding.NewHashEmbedder(64),
		Settings:           opts.settings,
		CascadeMaxAttempts: 3,
		Logger:             logger,
		Now:                opts.now,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(registry.Close)

	authorizer := auth.NewOwnerBasedAuthorizer(registry)
	if opts.summarizeTimeout == 0 {
		opts.summarizeTimeout = time.Second
	}
	namer := NewAutoNamer(registry, opts.summarizer, opts.summarizeTimeout, logger)
	t.Cleanup(namer.Wait)

	return &testEnv{
		store:      store,
		registry:   registry,
		ledger:     registry.Ledger(),
		namer:      namer,
		summarizer: opts.summarizer,
		service:    NewService(registry, NewResolver(registry, authorizer, logger), namer, authorizer, logger),
	}
}

// fakeSummarizer returns a fixed title or error. When gate is set every call
// blocks until the gate is closed.
type fakeSummarizer struct {
	mu    sync.Mutex
	title string
	err   error
	gate  chan struct{}
	calls int
	input string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.input = text
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.title, f.err
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubbornStore wraps a store and interferes with message deletes
type stubbornStore struct {
	repositories.MetadataStore

	mu            sync.Mutex
	ignoreDeletes int  // Deletes that report success without deleting anything
	failDeletes   bool // Every delete fails
	deleteCalls   int
}

var errStoreDown = errors.New("store unavailable")

func (s *stubbornStore) Delete(ctx context.Context, collection string, filter repositories.Filter) (int, error) {
	s.mu.Lock()
	s.deleteCalls++
	if s.failDeletes {
		s.mu.Unlock()
		return 0, errStoreDown
	}
	if s.ignoreDeletes > 0 {
		s.ignoreDeletes--
		s.mu.Unlock()
		return 0, nil
	}
	s.mu.Unlock()
	return s.MetadataStore.Delete(ctx, collection, filter)
}

// blockingStore holds the first chat-collection metadata query until release
// is closed or the query's context ends. entered is closed once it blocks.
type blockingStore struct {
	repositories.MetadataStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStore) QueryByMetadata(ctx context.Context, collection string, filter repositories.Filter) ([]repositories.Point, error) {
	if collection == repositories.CollectionChats {
		first := false
		s.once.Do(func() { first = true })
		if first {
			close(s.entered)
			select {
			case <-s.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return s.MetadataStore.QueryByMetadata(ctx, collection, filter)
}

// steppingClock returns successive instants from a script, repeating the last one
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

// tickingClock advances one millisecond per reading so creation order is
// always reflected in timestamps
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock(start time.Time) *tickingClock {
	return &tickingClock{now: start}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}
