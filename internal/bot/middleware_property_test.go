package bot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"treasure-hunt/internal/config"
)

// fakeContext implements the parts of tele.Context the middleware reads.
type fakeContext struct {
	tele.Context
	sender  *tele.User
	chat    *tele.Chat
	text    string
	replies []string
}

func (f *fakeContext) Sender() *tele.User { return f.sender }
func (f *fakeContext) Chat() *tele.Chat   { return f.chat }
func (f *fakeContext) Text() string       { return f.text }

func (f *fakeContext) Reply(what interface{}, opts ...interface{}) error {
	f.replies = append(f.replies, fmt.Sprint(what))
	return nil
}

func privateContext(userID int64, text string) *fakeContext {
	return &fakeContext{
		sender: &tele.User{ID: userID},
		chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		text:   text,
	}
}

func run(mw tele.MiddlewareFunc, c tele.Context) (called bool, err error) {
	err = mw(func(tele.Context) error {
		called = true
		return nil
	})(c)
	return called, err
}

// For any admin list and sender, an admin command runs iff the sender is listed.
func TestAdminMiddlewareProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adminIDs := rapid.SliceOfN(rapid.Int64Range(1, 1000000000), 1, 10).Draw(t, "adminIDs")
		cfg := &config.Config{Admin: config.AdminConfig{TelegramIDs: adminIDs}}

		var userID int64
		if rapid.Bool().Draw(t, "pickAdmin") {
			userID = rapid.SampledFrom(adminIDs).Draw(t, "admin")
		} else {
			userID = rapid.Int64Range(1, 1000000000).Draw(t, "user")
		}

		expected := false
		for _, id := range adminIDs {
			if id == userID {
				expected = true
				break
			}
		}

		c := privateContext(userID, "/launch g1")
		called, err := run(AdminMiddleware(cfg), c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != expected {
			t.Fatalf("userID=%d adminIDs=%v: called=%v, want %v", userID, adminIDs, called, expected)
		}
		if !expected && len(c.replies) != 1 {
			t.Fatalf("non-admin should get one denial reply, got %v", c.replies)
		}
	})
}

// Group chats are never served, whoever sends the command.
func TestPrivateChatMiddlewareProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000000).Draw(t, "userID")
		chatType := rapid.SampledFrom([]tele.ChatType{
			tele.ChatPrivate, tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel,
		}).Draw(t, "chatType")

		c := &fakeContext{
			sender: &tele.User{ID: userID},
			chat:   &tele.Chat{ID: -userID, Type: chatType},
			text:   "/games",
		}
		called, err := run(PrivateChatMiddleware(), c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != (chatType == tele.ChatPrivate) {
			t.Fatalf("chatType=%s called=%v", chatType, called)
		}
	})
}

func TestPrivateChatMiddleware_NoSender(t *testing.T) {
	called, err := run(PrivateChatMiddleware(), &fakeContext{chat: &tele.Chat{Type: tele.ChatPrivate}})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRecoveryMiddleware(t *testing.T) {
	c := privateContext(1, "/games")
	err := RecoveryMiddleware()(func(tele.Context) error {
		panic("boom")
	})(c)
	require.NoError(t, err)
	require.Len(t, c.replies, 1)
	assert.Contains(t, c.replies[0], "Internal error")
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	called, err := run(LoggingMiddleware(), privateContext(1, "/link secret-token"))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCommand(t *testing.T) {
	assert.Equal(t, "/link", command("/link abc.def.ghi"))
	assert.Equal(t, "/games", command("/games"))
	assert.Equal(t, "", command(""))
}
