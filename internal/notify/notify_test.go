package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
)

type fakeSender struct {
	to    []tele.Recipient
	what  []interface{}
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.to = append(f.to, to)
	f.what = append(f.what, what)
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{}, nil
}

func TestTelegramDispatcher_Send(t *testing.T) {
	s := &fakeSender{}
	d := NewTelegramDispatcher(s)

	require.NoError(t, d.Send(context.Background(), "12345", "you won"))
	require.Len(t, s.to, 1)
	assert.Equal(t, "12345", s.to[0].Recipient())
	assert.Equal(t, "you won", s.what[0])
}

func TestTelegramDispatcher_BadRecipient(t *testing.T) {
	s := &fakeSender{}
	d := NewTelegramDispatcher(s)

	err := d.Send(context.Background(), "not-a-chat", "hi")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, ErrBadRecipient)
	assert.Empty(t, s.to)
}

func TestTelegramDispatcher_SenderError(t *testing.T) {
	s := &fakeSender{err: errors.New("blocked by user")}
	d := NewTelegramDispatcher(s)

	err := d.Send(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestTelegramDispatcher_CanceledContext(t *testing.T) {
	s := &fakeSender{}
	d := NewTelegramDispatcher(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Send(ctx, "42", "hi")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Empty(t, s.to)
}

func TestTelegramDispatcher_SlowSendHonorsDeadline(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	defer close(s.block)
	d := NewTelegramDispatcher(s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.Send(ctx, "42", "hi")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLogDispatcher(t *testing.T) {
	assert.NoError(t, LogDispatcher{}.Send(context.Background(), "anyone", "hello"))
}
