package adminbot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.onStart)
	b.bot.Handle("/cancel", b.onCancel)

	b.bot.Handle(&btnAddGroup, b.onAddGroup)
	b.bot.Handle(&btnRemoveGroup, b.pickDest("remove", "Which group should be removed?"))
	b.bot.Handle(&btnSetMessage, b.pickDest("message", "Which group gets a new message?"))
	b.bot.Handle(&btnSetDelay, b.pickDest("delay", "Which group gets a new delay?"))
	b.bot.Handle(&btnToggleDelay, b.onToggleDelay)
	b.bot.Handle(&btnSchedules, b.onSchedules)
	b.bot.Handle(&btnStatus, b.onStatus)

	b.bot.Handle(&btnSchedAdd, b.pickDest("sched_add", "Schedule a broadcast for which group?"))
	b.bot.Handle(&btnSchedEdit, b.pickSchedDest("edit", "Edit a schedule of which group?"))
	b.bot.Handle(&btnSchedRemove, b.pickSchedDest("remove_entry", "Remove a schedule of which group?"))
	b.bot.Handle(&btnToggleSched, b.onToggleSchedule)
	b.bot.Handle(&btnBack, b.onStart)

	b.bot.Handle(&destPick, b.onDestPicked)
	b.bot.Handle(&entryPick, b.onEntryPicked)

	b.bot.Handle(tele.OnText, b.onInput)
	b.bot.Handle(tele.OnPhoto, b.onInput)
	b.bot.Handle(tele.OnDocument, b.onInput)
}

func (b *Bot) onStart(c tele.Context) error {
	b.sessions.reset(c.Chat().ID)
	if c.Callback() != nil {
		_ = c.Respond()
	}
	return c.Send("Group broadcast control panel.", mainMenu())
}

func (b *Bot) onCancel(c tele.Context) error {
	b.sessions.reset(c.Chat().ID)
	return c.Send("Cancelled.", mainMenu())
}

func (b *Bot) onSchedules(c tele.Context) error {
	b.sessions.reset(c.Chat().ID)
	_ = c.Respond()
	return c.Send("Daily schedules.", scheduleMenu())
}

func (b *Bot) onAddGroup(c tele.Context) error {
	sess := b.sessions.get(c.Chat().ID)
	sess.state = stateAddGroup
	_ = c.Respond()
	return c.Send("Send the group as @handle or a t.me link.")
}

// pickDest answers a menu button with a destination picker carrying
// the follow-up action.
func (b *Bot) pickDest(action, prompt string) tele.HandlerFunc {
	return func(c tele.Context) error {
		_ = c.Respond()
		ids, err := b.destIDs()
		if err != nil {
			return c.Send("State is unavailable right now, try again.")
		}
		if len(ids) == 0 {
			return c.Send("No groups yet. Add one first.", mainMenu())
		}
		return c.Send(prompt, destMenu(action, ids))
	}
}

// pickSchedDest is pickDest restricted to groups that have schedules.
func (b *Bot) pickSchedDest(action, prompt string) tele.HandlerFunc {
	return func(c tele.Context) error {
		_ = c.Respond()
		ctx, cancel := b.opCtx()
		defer cancel()
		snap, err := b.store.Snapshot(ctx)
		if err != nil {
			return c.Send("State is unavailable right now, try again.")
		}
		ids := make([]string, 0, len(snap.Scheduled))
		for id, list := range snap.Scheduled {
			if len(list) > 0 {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return c.Send("No schedules yet.", scheduleMenu())
		}
		sort.Strings(ids)
		return c.Send(prompt, destMenu("sched_"+action, ids))
	}
}

func (b *Bot) destIDs() ([]string, error) {
	ctx, cancel := b.opCtx()
	defer cancel()
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snap.Destinations))
	for id := range snap.Destinations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Bot) onDestPicked(c tele.Context) error {
	_ = c.Respond()
	args := strings.Split(c.Data(), "|")
	if len(args) != 2 {
		return nil
	}
	action, dest := args[0], args[1]
	sess := b.sessions.get(c.Chat().ID)

	switch action {
	case "remove":
		return b.removeDestination(c, dest)
	case "message":
		sess.state = stateSetMessage
		sess.dest = dest
		return c.Send(fmt.Sprintf("Send the new broadcast message for %s. Text, photo or document.", dest))
	case "delay":
		sess.state = stateDelayHours
		sess.dest = dest
		return c.Send(fmt.Sprintf("New interval for %s. Hours?", dest))
	case "sched_add":
		sess.state = stateSchedTime
		sess.dest = dest
		return c.Send("Time of day as HH:MM:SS.")
	case "sched_edit":
		return b.showEntryPicker(c, "edit", dest)
	case "sched_remove_entry":
		return b.showEntryPicker(c, "remove", dest)
	default:
		return nil
	}
}

func (b *Bot) showEntryPicker(c tele.Context, action, dest string) error {
	ctx, cancel := b.opCtx()
	defer cancel()
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return c.Send("State is unavailable right now, try again.")
	}
	entries := snap.Scheduled[dest]
	if len(entries) == 0 {
		return c.Send("That group has no schedules anymore.", scheduleMenu())
	}
	return c.Send("Which entry?", entryMenu(action, dest, entries))
}

func (b *Bot) onEntryPicked(c tele.Context) error {
	_ = c.Respond()
	args := strings.Split(c.Data(), "|")
	if len(args) != 3 {
		return nil
	}
	action, dest := args[0], args[1]
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return nil
	}
	sess := b.sessions.get(c.Chat().ID)

	switch action {
	case "remove":
		return b.removeScheduleEntry(c, dest, index)
	case "edit":
		sess.state = stateEditTime
		sess.dest = dest
		sess.index = index
		sess.newTime = nil
		return c.Send("New time as HH:MM:SS, or 0 to keep the current one.")
	default:
		return nil
	}
}

// onInput routes free-form messages by conversation state.
func (b *Bot) onInput(c tele.Context) error {
	sess := b.sessions.get(c.Chat().ID)
	switch sess.state {
	case stateAddGroup:
		return b.inputAddGroup(c, sess)
	case stateSetMessage:
		return b.inputSetMessage(c, sess)
	case stateDelayHours, stateDelayMinutes, stateDelaySeconds:
		return b.inputDelay(c, sess)
	case stateSchedTime:
		return b.inputSchedTime(c, sess)
	case stateSchedMessage:
		return b.inputSchedMessage(c, sess)
	case stateEditTime:
		return b.inputEditTime(c, sess)
	case stateEditMessage:
		return b.inputEditMessage(c, sess)
	default:
		return c.Send("Pick an action first.", mainMenu())
	}
}

func (b *Bot) inputAddGroup(c tele.Context, sess *session) error {
	handle, err := normalizeHandle(c.Text())
	if err != nil {
		return c.Send("That does not look like a group link. Try @handle or https://t.me/handle.")
	}
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.AddDestination(ctx, handle); err != nil {
		if errors.Is(err, snapshot.ErrExists) {
			sess.state = stateIdle
			return c.Send(handle+" is already in the list.", mainMenu())
		}
		return b.oops(c, err)
	}
	sess.state = stateSetMessage
	sess.dest = handle
	return c.Send(fmt.Sprintf("%s added. Now send its broadcast message. Text, photo or document.", handle))
}

func (b *Bot) inputSetMessage(c tele.Context, sess *session) error {
	p, err := payloadFromMessage(c.Message(), b.downloadPhoto)
	if err != nil {
		return c.Send(err.Error())
	}
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.SetDelayPayload(ctx, sess.dest, p); err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			b.sessions.reset(c.Chat().ID)
			return c.Send("That group is gone.", mainMenu())
		}
		return b.oops(c, err)
	}
	b.sessions.reset(c.Chat().ID)
	return c.Send("Message saved for "+sess.dest+".", mainMenu())
}

func (b *Bot) inputDelay(c tele.Context, sess *session) error {
	n, err := parseDelayPart(c.Text())
	if err != nil {
		return c.Send("Numbers only. Try again.")
	}
	switch sess.state {
	case stateDelayHours:
		sess.hours = n
		sess.state = stateDelayMinutes
		return c.Send("Minutes?")
	case stateDelayMinutes:
		sess.minutes = n
		sess.state = stateDelaySeconds
		return c.Send("Seconds?")
	default:
		total := sess.hours*3600 + sess.minutes*60 + n
		ctx, cancel := b.opCtx()
		defer cancel()
		if err := b.store.SetDelaySeconds(ctx, sess.dest, total); err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				b.sessions.reset(c.Chat().ID)
				return c.Send("That group is gone.", mainMenu())
			}
			return b.oops(c, err)
		}
		dest := sess.dest
		b.sessions.reset(c.Chat().ID)
		return c.Send(fmt.Sprintf("Interval for %s is now %ds.", dest, total), mainMenu())
	}
}

func (b *Bot) inputSchedTime(c tele.Context, sess *session) error {
	ts := strings.TrimSpace(c.Text())
	if _, err := snapshot.ParseTimeOfDay(ts); err != nil {
		return c.Send("Time must look like 09:30:00. Try again.")
	}
	sess.pendingTime = ts
	sess.state = stateSchedMessage
	return c.Send("Now send the message for that time. Text, photo or document.")
}

func (b *Bot) inputSchedMessage(c tele.Context, sess *session) error {
	p, err := payloadFromMessage(c.Message(), b.downloadPhoto)
	if err != nil {
		return c.Send(err.Error())
	}
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.AddScheduleEntry(ctx, sess.dest, sess.pendingTime, p); err != nil {
		switch {
		case errors.Is(err, snapshot.ErrDuplicateTime):
			sess.state = stateSchedTime
			return c.Send("There is already a broadcast at that time for this group. Pick another time.")
		case errors.Is(err, snapshot.ErrNotFound):
			b.sessions.reset(c.Chat().ID)
			return c.Send("That group is gone.", scheduleMenu())
		default:
			return b.oops(c, err)
		}
	}
	dest, ts := sess.dest, sess.pendingTime
	b.sessions.reset(c.Chat().ID)
	return c.Send(fmt.Sprintf("Scheduled %s for %s.", ts, dest), scheduleMenu())
}

func (b *Bot) inputEditTime(c tele.Context, sess *session) error {
	if keepCurrent(c.Text()) {
		sess.newTime = nil
	} else {
		ts := strings.TrimSpace(c.Text())
		if _, err := snapshot.ParseTimeOfDay(ts); err != nil {
			return c.Send("Time must look like 09:30:00, or 0 to keep the current one.")
		}
		sess.newTime = &ts
	}
	sess.state = stateEditMessage
	return c.Send("New message, or 0 to keep the current one.")
}

func (b *Bot) inputEditMessage(c tele.Context, sess *session) error {
	var newPayload *snapshot.Payload
	if !keepCurrent(c.Text()) {
		p, err := payloadFromMessage(c.Message(), b.downloadPhoto)
		if err != nil {
			return c.Send(err.Error())
		}
		newPayload = &p
	}
	ctx, cancel := b.opCtx()
	defer cancel()
	err := b.store.EditScheduleEntry(ctx, sess.dest, sess.index, sess.newTime, newPayload)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrDuplicateTime):
		sess.state = stateEditTime
		return c.Send("There is already a broadcast at that time for this group. Pick another time, or 0 to keep.")
	case errors.Is(err, snapshot.ErrBadIndex), errors.Is(err, snapshot.ErrNotFound):
		b.sessions.reset(c.Chat().ID)
		return c.Send("That entry is gone.", scheduleMenu())
	default:
		return b.oops(c, err)
	}
	b.sessions.reset(c.Chat().ID)
	return c.Send("Schedule updated.", scheduleMenu())
}

func (b *Bot) removeDestination(c tele.Context, dest string) error {
	ctx, cancel := b.opCtx()
	defer cancel()
	if err := b.store.RemoveDestination(ctx, dest); err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return c.Send("Already removed.", mainMenu())
		}
		return b.oops(c, err)
	}

	// Nothing left to broadcast to: switch the loops off rather than
	// letting them spin against an empty list.
	snap, err := b.store.Snapshot(ctx)
	if err == nil && len(snap.Destinations) == 0 {
		if snap.DelayActive {
			_ = b.store.SetDelayActive(ctx, false)
		}
		if snap.ScheduleActive {
			_ = b.store.SetScheduleActive(ctx, false)
		}
		return c.Send(dest+" removed. That was the last group, broadcasting stopped.", mainMenu())
	}
	return c.Send(dest+" removed.", mainMenu())
}

func (b *Bot) removeScheduleEntry(c tele.Context, dest string, index int) error {
	ctx, cancel := b.opCtx()
	defer cancel()
	err := b.store.RemoveScheduleEntry(ctx, dest, index)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrBadIndex), errors.Is(err, snapshot.ErrNotFound):
		return c.Send("That entry is gone.", scheduleMenu())
	default:
		return b.oops(c, err)
	}

	snap, serr := b.store.Snapshot(ctx)
	if serr == nil && snap.ScheduleActive {
		total := 0
		for _, list := range snap.Scheduled {
			total += len(list)
		}
		if total == 0 {
			_ = b.store.SetScheduleActive(ctx, false)
			return c.Send("Removed. That was the last schedule, the schedule loop stopped.", scheduleMenu())
		}
	}
	return c.Send("Removed.", scheduleMenu())
}

func (b *Bot) onToggleDelay(c tele.Context) error {
	_ = c.Respond()
	ctx, cancel := b.opCtx()
	defer cancel()
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return b.oops(c, err)
	}
	if !snap.DelayActive && len(snap.Destinations) == 0 {
		return c.Send("Add a group before starting the broadcast.", mainMenu())
	}
	if err := b.store.SetDelayActive(ctx, !snap.DelayActive); err != nil {
		return b.oops(c, err)
	}
	if snap.DelayActive {
		return c.Send("Broadcast stopped.", mainMenu())
	}
	return c.Send("Broadcast started.", mainMenu())
}

func (b *Bot) onToggleSchedule(c tele.Context) error {
	_ = c.Respond()
	ctx, cancel := b.opCtx()
	defer cancel()
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return b.oops(c, err)
	}
	total := 0
	for _, list := range snap.Scheduled {
		total += len(list)
	}
	if !snap.ScheduleActive && total == 0 {
		return c.Send("Add a schedule first.", scheduleMenu())
	}
	if err := b.store.SetScheduleActive(ctx, !snap.ScheduleActive); err != nil {
		return b.oops(c, err)
	}
	if snap.ScheduleActive {
		return c.Send("Schedule loop stopped.", scheduleMenu())
	}
	return c.Send("Schedule loop started.", scheduleMenu())
}

func (b *Bot) onStatus(c tele.Context) error {
	_ = c.Respond()
	ctx, cancel := b.opCtx()
	defer cancel()
	snap, err := b.store.Snapshot(ctx)
	if err != nil {
		return b.oops(c, err)
	}
	return c.Send(renderStatus(snap), mainMenu())
}

func renderStatus(snap snapshot.Snapshot) string {
	var sb strings.Builder
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	fmt.Fprintf(&sb, "Broadcast: %s · Schedules: %s\n", onOff(snap.DelayActive), onOff(snap.ScheduleActive))

	if len(snap.Destinations) == 0 {
		sb.WriteString("\nNo groups configured.")
		return sb.String()
	}

	ids := make([]string, 0, len(snap.Destinations))
	for id := range snap.Destinations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		job := snap.Destinations[id]
		fmt.Fprintf(&sb, "\n%s\n  every %ds · %s\n", id, job.DelaySeconds, summary(job.Payload))
		for _, e := range snap.Scheduled[id] {
			fmt.Fprintf(&sb, "  at %s · %s\n", e.Time, summary(e.Payload))
		}
	}
	return sb.String()
}

// downloadPhoto pulls the largest rendition from Telegram and stores it
// as a local blob.
func (b *Bot) downloadPhoto(p *tele.Photo) (string, error) {
	rc, err := b.bot.File(&p.File)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	ref, err := b.blobs.Put(rc, "jpg")
	if err != nil {
		return "", err
	}
	b.log.Debug("photo stored", logx.String("ref", ref))
	return ref, nil
}

func (b *Bot) oops(c tele.Context, err error) error {
	b.log.Warn("admin action failed", logx.Err(err))
	return c.Send("Something went wrong: " + err.Error())
}
