package chat_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatcore/internal/chat"
	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/store/sqlite"
)

// fixture wires the core services against a throwaway SQLite database so
// tests exercise the real persistence path.
type fixture struct {
	db *sql.DB

	userRepo *sqlite.UserRepo
	convRepo *sqlite.ConversationRepo
	msgRepo  *sqlite.MessageRepo
	partRepo *sqlite.ParticipantRepo

	sink   *recordSink
	roster *fakeRoster

	messages  *chat.MessageService
	directory *chat.Directory
	presence  *chat.PresenceTracker
	typing    *chat.TypingCoordinator
	dispatch  *chat.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	enc, err := security.NewEncryptor([]byte("test-encryption-key"))
	require.NoError(t, err)

	logger := zap.NewNop()
	f := &fixture{
		db:       db,
		userRepo: sqlite.NewUserRepo(db),
		convRepo: sqlite.NewConversationRepo(db),
		msgRepo:  sqlite.NewMessageRepo(db),
		partRepo: sqlite.NewParticipantRepo(db),
		sink:     &recordSink{},
		roster:   &fakeRoster{viewing: make(map[viewKey]bool)},
	}

	f.directory = chat.NewDirectory(f.convRepo, f.partRepo, f.userRepo, logger)
	f.messages = chat.NewMessageService(f.msgRepo, f.convRepo, f.partRepo, f.userRepo, enc, logger, 50, 0)
	f.presence = chat.NewPresenceTracker(f.userRepo, f.partRepo, f.sink, 30*time.Second, logger)
	f.typing = chat.NewTypingCoordinator(f.sink, 2*time.Second)
	f.dispatch = chat.NewDispatcher(f.messages, f.directory, f.presence, f.typing, f.roster, f.sink, logger)

	t.Cleanup(f.presence.Shutdown)
	t.Cleanup(f.typing.Shutdown)
	return f
}

func (f *fixture) user(t *testing.T, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, HashedPassword: "x"}
	require.NoError(t, f.userRepo.Create(context.Background(), u))
	return u
}

func (f *fixture) direct(t *testing.T, a, b int64) *domain.Conversation {
	t.Helper()
	conv, err := f.directory.FindOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

type viewKey struct {
	conversationID int64
	userID         int64
}

type fakeRoster struct {
	mu      sync.Mutex
	viewing map[viewKey]bool
}

func (r *fakeRoster) IsViewing(conversationID, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewing[viewKey{conversationID, userID}]
}

func (r *fakeRoster) setViewing(conversationID, userID int64, viewing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewing[viewKey{conversationID, userID}] = viewing
}

type sinkCall struct {
	userIDs        []int64
	conversationID int64
	exceptUserID   int64
	evt            chat.Event
}

// recordSink captures every fan-out instead of delivering it, so tests can
// assert on exactly which events reached which audience.
type recordSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordSink) SendToUsers(userIDs []int64, evt chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{userIDs: slices.Clone(userIDs), evt: evt})
}

func (s *recordSink) SendToConversation(conversationID, exceptUserID int64, evt chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{conversationID: conversationID, exceptUserID: exceptUserID, evt: evt})
}

func (s *recordSink) ofType(eventType string) []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkCall
	for _, c := range s.calls {
		if c.evt.Type() == eventType {
			out = append(out, c)
		}
	}
	return out
}

func (s *recordSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
