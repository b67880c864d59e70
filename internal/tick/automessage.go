package tick

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"petsim/internal/logger"
	"petsim/internal/models"
	"petsim/internal/reply"
	"petsim/internal/telemetry"
)

// ChatStore is what the auto-message tick reads and writes.
type ChatStore interface {
	IdleChats(ctx context.Context, before time.Time) ([]models.Chat, error)
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]models.Message, error)
	AddMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetPet(ctx context.Context, id int64) (models.Pet, bool, error)
}

// Replier produces the pet's next line. ("", nil) means "use the phrase bank".
type Replier interface {
	Generate(ctx context.Context, p models.Pet, history []models.Message, isOwner bool) (string, error)
}

type AutoMessageOptions struct {
	Idle           time.Duration
	Probability    float64
	MaxConsecutive int
	ContextSize    int
}

func DefaultAutoMessageOptions() AutoMessageOptions {
	return AutoMessageOptions{Idle: time.Hour, Probability: 0.2, MaxConsecutive: 2, ContextSize: 10}
}

// AutoMessageResult summarises one auto-message run.
type AutoMessageResult struct {
	Checked int
	Sent    int
	Skipped int
	Failed  int
}

// AutoMessageTick lets pets speak up in chats that have gone quiet.
type AutoMessageTick struct {
	store   ChatStore
	replier Replier
	opts    AutoMessageOptions
	now     func() time.Time
	draw    func() float64
	log     *slog.Logger
}

func NewAutoMessageTick(st ChatStore, replier Replier, opts AutoMessageOptions, log *slog.Logger) *AutoMessageTick {
	def := DefaultAutoMessageOptions()
	if opts.Idle <= 0 {
		opts.Idle = def.Idle
	}
	if opts.MaxConsecutive <= 0 {
		opts.MaxConsecutive = def.MaxConsecutive
	}
	if opts.ContextSize <= 0 {
		opts.ContextSize = def.ContextSize
	}
	if log == nil {
		log = slog.Default()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &AutoMessageTick{
		store:   st,
		replier: replier,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		draw:    rng.Float64,
		log:     log,
	}
}

// SetClock replaces the time source; used by tests.
func (t *AutoMessageTick) SetClock(now func() time.Time) {
	t.now = now
}

// SetDraw replaces the [0,1) random source used for the send gate and phrase choice.
func (t *AutoMessageTick) SetDraw(draw func() float64) {
	t.draw = draw
}

// Run visits every idle chat once. Chats are independent: one failure is
// logged and the next chat is tried.
func (t *AutoMessageTick) Run(ctx context.Context) (AutoMessageResult, error) {
	log := logger.FromContext(ctx, t.log)
	now := t.now()

	chats, err := t.store.IdleChats(ctx, now.Add(-t.opts.Idle))
	if err != nil {
		return AutoMessageResult{}, fmt.Errorf("list idle chats: %w", err)
	}

	var res AutoMessageResult
	for _, c := range chats {
		res.Checked++
		sent, err := t.visit(ctx, c, now)
		switch {
		case err != nil:
			res.Failed++
			log.Error("auto message failed", "chat_id", c.ID, "error", err)
		case sent:
			res.Sent++
			telemetry.AutoMessagesSent.Inc()
		default:
			res.Skipped++
		}
	}
	log.Info("auto message tick finished", "checked", res.Checked, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (t *AutoMessageTick) visit(ctx context.Context, c models.Chat, now time.Time) (bool, error) {
	recent, err := t.store.RecentMessages(ctx, c.ID, t.opts.ContextSize)
	if err != nil {
		return false, fmt.Errorf("load messages: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}
	if ConsecutiveAI(recent) >= t.opts.MaxConsecutive {
		return false, nil
	}
	if t.draw() >= t.opts.Probability {
		return false, nil
	}

	p, found, err := t.store.GetPet(ctx, c.PetID)
	if err != nil {
		return false, fmt.Errorf("load pet %d: %w", c.PetID, err)
	}
	if !found || p.Hidden() {
		return false, nil
	}

	history := make([]models.Message, len(recent))
	for i, m := range recent {
		history[len(recent)-1-i] = m
	}
	text, err := t.replier.Generate(ctx, p, history, true)
	if err != nil {
		return false, fmt.Errorf("generate reply: %w", err)
	}
	if text == "" {
		text = reply.Fallback(p.Character, t.draw)
	}

	_, err = t.store.AddMessage(ctx, models.Message{
		ChatID:    c.ID,
		Type:      models.MessageAI,
		Content:   text,
		CreatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	return true, nil
}

// ConsecutiveAI counts generated messages at the head of recent, which must be
// ordered newest first.
func ConsecutiveAI(recent []models.Message) int {
	n := 0
	for _, m := range recent {
		if m.Type != models.MessageAI {
			break
		}
		n++
	}
	return n
}
