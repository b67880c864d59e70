package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petsim/internal/models"
	"petsim/internal/notify"
	"petsim/internal/ratelimit"
	"petsim/internal/store/sqlite"
)

var start = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "notify.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixedThrottle struct {
	allow bool
	err   error
	calls []int64
}

func (f *fixedThrottle) AllowOwner(_ context.Context, ownerID int64) (bool, error) {
	f.calls = append(f.calls, ownerID)
	return f.allow, f.err
}

var owner = models.Owner{ID: 3, Email: "kim@example.com", FullName: "Kim"}

func TestRender(t *testing.T) {
	subject, body := notify.Render(owner, []string{"Mochi"}, "https://pets.example")
	assert.Equal(t, "Your pet Mochi is not feeling well", subject)
	assert.Contains(t, body, `href="https://pets.example/pet"`)
	assert.Contains(t, body, "Hi Kim")

	subject, body = notify.Render(owner, []string{"Mochi", "<Bo>"}, "https://pets.example")
	assert.Equal(t, "Your pets Mochi, <Bo> are not feeling well", subject)
	assert.Contains(t, body, "&lt;Bo&gt;")
}

func TestOutbox_Notify(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	th := &fixedThrottle{allow: true}
	out := notify.NewOutbox(st, th, "https://pets.example/", quiet())
	clk := &clock{now: start}
	out.SetClock(clk.Now)

	queued, err := out.Notify(ctx, owner, []string{"Mochi", "Bo"})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, []int64{3}, th.calls)

	e, found, err := st.GetEmail(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "kim@example.com", e.Recipient)
	assert.Equal(t, models.EmailPending, e.Status)
	assert.True(t, e.IsHTML)
	assert.Equal(t, notify.DefaultMaxAttempts, e.MaxAttempts)
	assert.Contains(t, e.Body, `href="https://pets.example/pet"`)
}

func TestOutbox_ThrottledAndFailOpen(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	denied := notify.NewOutbox(st, &fixedThrottle{allow: false}, "", quiet())
	queued, err := denied.Notify(ctx, owner, []string{"Mochi"})
	require.NoError(t, err)
	assert.False(t, queued)
	_, found, err := st.GetEmail(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	broken := notify.NewOutbox(st, &fixedThrottle{allow: false, err: errors.New("redis down")}, "", quiet())
	queued, err = broken.Notify(ctx, owner, []string{"Mochi"})
	require.NoError(t, err)
	assert.True(t, queued, "a throttle error sends regardless of the allowed flag")
	_, found, err = st.GetEmail(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)

	queued, err = notify.NewOutbox(st, nil, "", quiet()).Notify(ctx, models.Owner{ID: 4}, []string{"Mochi"})
	require.NoError(t, err)
	assert.False(t, queued, "owner without an address")
}

func TestOutbox_RedisThrottleCapsEmails(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	th := ratelimit.NewNotifyThrottle(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 2, 6*time.Hour)

	st := openStore(t)
	out := notify.NewOutbox(st, th, "", quiet())
	var queued int
	for i := 0; i < 5; i++ {
		ok, err := out.Notify(ctx, owner, []string{"Mochi"})
		require.NoError(t, err)
		if ok {
			queued++
		}
	}
	assert.Equal(t, 2, queued)
}

type flakySender struct {
	err  error
	sent []int64
}

func (s *flakySender) Send(_ context.Context, e models.Email) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e.ID)
	return nil
}

func enqueue(t *testing.T, st *sqlite.Store, maxAttempts int) models.Email {
	t.Helper()
	e, err := st.EnqueueEmail(context.Background(), models.Email{
		Recipient: "kim@example.com", Subject: "s", Body: "b", Status: models.EmailPending,
		MaxAttempts: maxAttempts, CreatedAt: start, UpdatedAt: start,
	})
	require.NoError(t, err)
	return e
}

func TestDrainer_Sends(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	a := enqueue(t, st, 5)
	b := enqueue(t, st, 5)

	sender := &flakySender{}
	d := notify.NewDrainer(st, sender, 5*time.Minute, quiet())
	clk := &clock{now: start}
	d.SetClock(clk.Now)

	sent, err := d.ProcessOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{a.ID, b.ID}, sender.sent)

	got, _, err := st.GetEmail(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailSent, got.Status)

	sent, err = d.ProcessOnce(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sent, "sent emails are not claimed again")
}

func TestDrainer_BacksOffThenFails(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := enqueue(t, st, 3)

	d := notify.NewDrainer(st, &flakySender{err: errors.New("smtp 451")}, 5*time.Minute, quiet())
	clk := &clock{now: start}
	d.SetClock(clk.Now)

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := d.ProcessOnce(ctx, 10)
		require.NoError(t, err)
		got, _, err := st.GetEmail(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EmailPending, got.Status)
		assert.Equal(t, attempt, got.Attempts)
		require.NotNil(t, got.NextTry)
		assert.Equal(t, clk.now.Add(time.Duration(attempt)*time.Minute), *got.NextTry)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "smtp 451", *got.LastError)

		// not due until next_try
		_, err = d.ProcessOnce(ctx, 10)
		require.NoError(t, err)
		again, _, err := st.GetEmail(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, again.Attempts)

		clk.Advance(time.Duration(attempt) * time.Minute)
	}

	_, err := d.ProcessOnce(ctx, 10)
	require.NoError(t, err)
	got, _, err := st.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
}

func TestDrainer_RequeuesStale(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := enqueue(t, st, 5)

	claimed, err := st.ClaimEmails(ctx, start, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	sender := &flakySender{}
	d := notify.NewDrainer(st, sender, 5*time.Minute, quiet())
	clk := &clock{now: start.Add(4 * time.Minute)}
	d.SetClock(clk.Now)
	sent, err := d.ProcessOnce(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sent)

	clk.Advance(2 * time.Minute)
	sent, err = d.ProcessOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{e.ID}, sender.sent)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, notify.LogSender{Log: quiet()}.Send(context.Background(), models.Email{ID: 1}))
}
