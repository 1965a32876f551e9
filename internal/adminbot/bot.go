// Package adminbot is the owner-facing control surface: a regular bot
// with inline menus for managing destinations, payloads, delays and
// daily schedules. Only the configured owner gets a response; everyone
// else is ignored outright.
package adminbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// Store is the slice of the state keeper the menus operate on.
type Store interface {
	Snapshot(ctx context.Context) (snapshot.Snapshot, error)
	AddDestination(ctx context.Context, id string) error
	RemoveDestination(ctx context.Context, id string) error
	SetDelayPayload(ctx context.Context, id string, p snapshot.Payload) error
	SetDelaySeconds(ctx context.Context, id string, seconds int) error
	SetDelayActive(ctx context.Context, active bool) error
	AddScheduleEntry(ctx context.Context, id, timeOfDay string, p snapshot.Payload) error
	EditScheduleEntry(ctx context.Context, id string, index int, newTime *string, newPayload *snapshot.Payload) error
	RemoveScheduleEntry(ctx context.Context, id string, index int) error
	SetScheduleActive(ctx context.Context, active bool) error
}

// Blobs stores downloaded photo bytes and hands back the stored ref.
type Blobs interface {
	Put(r io.Reader, ext string) (string, error)
}

type Options struct {
	Token       string
	OwnerUserID int64
	PollTimeout time.Duration
}

type Bot struct {
	bot   *tele.Bot
	store Store
	blobs Blobs
	log   logx.Logger
	owner int64

	sessions *sessions

	// baseCtx bounds keeper calls made from handlers; set by Run.
	baseCtx context.Context
}

func New(opts Options, store Store, blobs Blobs, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("bot token is empty")
	}
	if opts.OwnerUserID == 0 {
		return nil, errors.New("owner user id is required")
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b := &Bot{
		store:    store,
		blobs:    blobs,
		log:      log,
		owner:    opts.OwnerUserID,
		sessions: newSessions(),
		baseCtx:  context.Background(),
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	b.bot = tb

	tb.Use(b.ownerOnly, b.recovered)
	b.registerHandlers()
	return b, nil
}

// Run polls Telegram until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.baseCtx = ctx
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		b.bot.Start()
	}()
	select {
	case <-ctx.Done():
		b.bot.Stop()
		<-stopped
		return nil
	case <-stopped:
		return errors.New("telegram poller stopped unexpectedly")
	}
}

// ownerOnly drops every update not coming from the configured owner.
// No reply, no log spam; strangers get silence.
func (b *Bot) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || c.Sender().ID != b.owner {
			return nil
		}
		return next(c)
	}
}

func (b *Bot) recovered(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic recovered",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(c)
	}
}

// opCtx bounds one keeper or Telegram API call from a handler.
func (b *Bot) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.baseCtx, 15*time.Second)
}

// Inline menu buttons. Dynamic pickers use destPick/entryPick with the
// action encoded in the callback data.
var (
	btnAddGroup    = tele.Btn{Unique: "add_group", Text: "➕ Add group"}
	btnRemoveGroup = tele.Btn{Unique: "remove_group", Text: "➖ Remove group"}
	btnSetMessage  = tele.Btn{Unique: "set_message", Text: "✏ Set message"}
	btnSetDelay    = tele.Btn{Unique: "set_delay", Text: "⏱ Set delay"}
	btnToggleDelay = tele.Btn{Unique: "toggle_delay", Text: "▶ Start/stop broadcast"}
	btnSchedules   = tele.Btn{Unique: "schedules", Text: "\U0001f550 Schedules"}
	btnStatus      = tele.Btn{Unique: "status", Text: "\U0001f4cb Status"}

	btnSchedAdd    = tele.Btn{Unique: "sched_add", Text: "➕ Add schedule"}
	btnSchedEdit   = tele.Btn{Unique: "sched_edit", Text: "✏ Edit schedule"}
	btnSchedRemove = tele.Btn{Unique: "sched_remove", Text: "➖ Remove schedule"}
	btnToggleSched = tele.Btn{Unique: "toggle_sched", Text: "▶ Start/stop schedule"}
	btnBack        = tele.Btn{Unique: "back_main", Text: "⬅ Back"}

	destPick  = tele.Btn{Unique: "dest_pick"}
	entryPick = tele.Btn{Unique: "entry_pick"}
)

func mainMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data(btnAddGroup.Text, btnAddGroup.Unique), m.Data(btnRemoveGroup.Text, btnRemoveGroup.Unique)),
		m.Row(m.Data(btnSetMessage.Text, btnSetMessage.Unique), m.Data(btnSetDelay.Text, btnSetDelay.Unique)),
		m.Row(m.Data(btnToggleDelay.Text, btnToggleDelay.Unique)),
		m.Row(m.Data(btnSchedules.Text, btnSchedules.Unique), m.Data(btnStatus.Text, btnStatus.Unique)),
	)
	return m
}

func scheduleMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data(btnSchedAdd.Text, btnSchedAdd.Unique), m.Data(btnSchedEdit.Text, btnSchedEdit.Unique)),
		m.Row(m.Data(btnSchedRemove.Text, btnSchedRemove.Unique)),
		m.Row(m.Data(btnToggleSched.Text, btnToggleSched.Unique)),
		m.Row(m.Data(btnBack.Text, btnBack.Unique)),
	)
	return m
}

// destMenu lists destinations as one button per row, carrying the
// follow-up action in the callback data.
func destMenu(action string, ids []string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(ids)+1)
	for _, id := range ids {
		rows = append(rows, m.Row(m.Data(id, destPick.Unique, action, id)))
	}
	rows = append(rows, m.Row(m.Data(btnBack.Text, btnBack.Unique)))
	m.Inline(rows...)
	return m
}

func entryMenu(action, dest string, entries []snapshot.ScheduleEntry) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(entries)+1)
	for i, e := range entries {
		label := fmt.Sprintf("%s · %s", e.Time, summary(e.Payload))
		rows = append(rows, m.Row(m.Data(label, entryPick.Unique, action, dest, fmt.Sprint(i))))
	}
	rows = append(rows, m.Row(m.Data(btnBack.Text, btnBack.Unique)))
	m.Inline(rows...)
	return m
}

// summary renders a short human label for a stored payload.
func summary(p snapshot.Payload) string {
	switch {
	case p.IsEmpty():
		return "(no message)"
	case p.HasMedia():
		if p.Message != "" {
			return "media: " + truncateLabel(p.Message)
		}
		return "media"
	default:
		return truncateLabel(p.Message)
	}
}

func truncateLabel(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= 24 {
		return s
	}
	return string(r[:24]) + "…"
}
