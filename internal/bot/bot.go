// Package bot is the Telegram front-end used by duty operators.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/bot/session"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

const defaultRequestTimeout = 10 * time.Second

// Sender is the part of the Telegram client the bot uses. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Service is the presence surface available to operators.
type Service interface {
	sdk.Roster
	sdk.Administration
}

// Options tune a Bot.
type Options struct {
	// AdminIDs is the operator allow-list. Empty allows everyone.
	AdminIDs       []int64
	SessionTTL     time.Duration
	RequestTimeout time.Duration
}

// Bot dispatches Telegram updates to the presence service.
type Bot struct {
	api     Sender
	svc     Service
	flow    *session.Workflow
	admins  map[int64]struct{}
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Bot.
func New(api Sender, svc Service, logger *zap.Logger, opts Options) *Bot {
	b := &Bot{
		api:     api,
		svc:     svc,
		flow:    session.New(svc, opts.SessionTTL),
		admins:  make(map[int64]struct{}, len(opts.AdminIDs)),
		timeout: opts.RequestTimeout,
		logger:  logger,
	}
	if b.timeout <= 0 {
		b.timeout = defaultRequestTimeout
	}
	for _, id := range opts.AdminIDs {
		b.admins[id] = struct{}{}
	}
	return b
}

// Run handles updates one at a time until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate processes a single update. Failures are reported to the
// operator and logged; they never stop the bot.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", zap.Int("update_id", u.UpdateID), zap.Any("panic", r))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		if u.Message.IsCommand() {
			b.handleCommand(ctx, u.Message)
			return
		}
		b.handleText(ctx, u.Message)
	}
}

func (b *Bot) allowed(userID int64) bool {
	if len(b.admins) == 0 {
		return true
	}
	_, ok := b.admins[userID]
	return ok
}

// reply is where the answer to an update goes. Callback answers edit the
// message carrying the button; commands get a new message.
type reply struct {
	chatID     int64
	messageID  int
	callbackID string
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	r := reply{chatID: m.Chat.ID}
	op := m.From.ID
	cmd := m.Command()

	if !b.allowed(op) {
		if cmd == "start" {
			b.show(r, fmt.Sprintf(textDenied, op), true, nil)
		}
		b.logger.Info("command from unlisted user", zap.Int64("user_id", op), zap.String("command", cmd))
		return
	}

	switch cmd {
	case "start":
		b.show(r, textWelcome, true, ptr(mainKeyboard()))
	case "check":
		b.check(ctx, r)
	case "absent":
		b.absent(ctx, r)
	case "locations":
		b.locations(ctx, r)
	case "delete":
		b.flow.StartDelete(op)
		b.show(r, textDeletePrompt, true, nil)
	case "cancel":
		b.flow.Cancel(op)
		b.show(r, textCancelled, false, ptr(mainKeyboard()))
	case "reset":
		b.show(r, textConfirmReset, true, ptr(resetKeyboard()))
	}
}

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	op := m.From.ID
	if !b.allowed(op) {
		return
	}
	r := reply{chatID: m.Chat.ID}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res := b.flow.HandleText(ctx, op, m.Text)
	switch res.Outcome {
	case session.QueryTooShort:
		b.show(r, textQueryTooShort, false, nil)
	case session.NoMatches:
		b.show(r, fmt.Sprintf(textNoMatches, res.Query), false, nil)
	case session.SearchFailed:
		b.logger.Warn("search failed", zap.Int64("operator", op), zap.Error(res.Err))
		b.show(r, errorText(res.Err), false, ptr(mainKeyboard()))
	case session.Candidates:
		b.show(r, fmt.Sprintf(textCandidates, len(res.Candidates)), true, ptr(candidatesKeyboard(res.Candidates)))
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	op := q.From.ID
	r := reply{chatID: op, callbackID: q.ID}
	if q.Message != nil && q.Message.Chat != nil {
		r.chatID = q.Message.Chat.ID
		r.messageID = q.Message.MessageID
	}

	if !b.allowed(op) {
		b.answer(r, textDeniedShort, true)
		return
	}

	data := q.Data
	switch {
	case data == cbCheck:
		b.check(ctx, r)
	case data == cbAbsent:
		b.absent(ctx, r)
	case data == cbLocations:
		b.locations(ctx, r)
	case data == cbDeleteStart:
		b.flow.StartDelete(op)
		b.answer(r, "", false)
		b.show(r, textDeletePrompt, true, nil)
	case strings.HasPrefix(data, cbConfirmPrefix):
		b.confirmDelete(ctx, r, q.From, data)
	case strings.HasPrefix(data, cbSelectPrefix):
		id, ok := parseID(data, cbSelectPrefix)
		if !ok {
			b.answer(r, "", false)
			return
		}
		b.flow.Select(op, id)
		b.answer(r, "", false)
		b.show(r, textConfirmDelete, true, ptr(confirmKeyboard(id)))
	case data == cbDeleteCancel:
		b.flow.Decline(op)
		b.answer(r, textAborted, false)
		b.show(r, textDeleteAborted, false, ptr(mainKeyboard()))
	case data == cbResetConfirm:
		b.answer(r, "", false)
		b.show(r, textConfirmReset, true, ptr(resetKeyboard()))
	case data == cbResetYes:
		b.reset(ctx, r, q.From)
	case data == cbResetNo:
		b.answer(r, textAborted, false)
		b.show(r, textBackToMenu, false, ptr(mainKeyboard()))
	default:
		b.answer(r, "", false)
	}
}

func (b *Bot) check(ctx context.Context, r reply) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	counts, err := b.svc.AggregateCounts(ctx)
	if err != nil {
		b.fail(r, "aggregate counts", err)
		return
	}
	b.answer(r, "", false)
	b.show(r, summaryText(counts), true, ptr(mainKeyboard()))
}

func (b *Bot) absent(ctx context.Context, r reply) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	absent, err := b.svc.ListAbsent(ctx)
	if err != nil {
		b.fail(r, "list absent", err)
		return
	}
	b.answer(r, "", false)
	b.show(r, absentText(absent), true, ptr(mainKeyboard()))
}

func (b *Bot) locations(ctx context.Context, r reply) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	absent, err := b.svc.ListAbsent(ctx)
	if err != nil {
		b.fail(r, "list absent", err)
		return
	}
	b.answer(r, "", false)

	var located []schema.AbsentPerson
	for _, p := range absent {
		if p.HasLocation && p.Latitude != nil && p.Longitude != nil {
			located = append(located, p)
		}
	}
	if len(located) == 0 {
		b.show(r, textNoLocations, false, ptr(mainKeyboard()))
		return
	}

	b.show(r, locationsHeader(len(located)), true, ptr(mainKeyboard()))
	for _, p := range located {
		b.send(tgbotapi.NewLocation(r.chatID, *p.Latitude, *p.Longitude))
		msg := tgbotapi.NewMessage(r.chatID, locationCaption(p))
		msg.ParseMode = tgbotapi.ModeMarkdown
		b.send(msg)
	}
}

func (b *Bot) confirmDelete(ctx context.Context, r reply, from *tgbotapi.User, data string) {
	id, ok := parseID(data, cbConfirmPrefix)
	if !ok {
		b.answer(r, "", false)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res := b.flow.Confirm(ctx, from.ID, operatorName(from), id)
	switch res.Outcome {
	case session.Deleted:
		b.logger.Info("person deleted", zap.Int64("operator", from.ID), zap.Int64("id", id))
		b.answer(r, textDeletedAlert, false)
		b.show(r, fmt.Sprintf(textDeleted, md(res.Result.Message)), true, ptr(mainKeyboard()))
	case session.Expired:
		b.answer(r, textExpiredAlert, true)
		b.show(r, textExpired, false, ptr(mainKeyboard()))
	case session.DeleteFailed:
		b.logger.Warn("delete failed", zap.Int64("operator", from.ID), zap.Int64("id", id), zap.Error(res.Err))
		text := textDeleteFailed
		if e := errorText(res.Err); e != textServerError {
			text = e
		}
		b.answer(r, text, true)
		b.show(r, text, false, ptr(mainKeyboard()))
	}
}

func (b *Bot) reset(ctx context.Context, r reply, from *tgbotapi.User) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.svc.BulkReset(ctx, operatorName(from))
	if err != nil {
		b.logger.Warn("bulk reset failed", zap.Int64("operator", from.ID), zap.Error(err))
		b.answer(r, textResetFailed, true)
		return
	}
	b.logger.Info("statuses reset", zap.Int64("operator", from.ID), zap.Int("affected", res.Affected))
	b.answer(r, textResetAlert, false)
	b.show(r, fmt.Sprintf(textResetDone, res.Affected), true, ptr(mainKeyboard()))
}

// fail reports a failed read. Button presses get an alert, commands a message.
func (b *Bot) fail(r reply, op string, err error) {
	b.logger.Warn(op+" failed", zap.Error(err))
	text := errorText(err)
	if r.callbackID != "" {
		b.answer(r, text, true)
		return
	}
	b.show(r, text, false, nil)
}

func (b *Bot) show(r reply, text string, markdown bool, kb *tgbotapi.InlineKeyboardMarkup) {
	mode := ""
	if markdown {
		mode = tgbotapi.ModeMarkdown
	}
	if r.messageID != 0 {
		edit := tgbotapi.NewEditMessageText(r.chatID, r.messageID, text)
		edit.ParseMode = mode
		edit.ReplyMarkup = kb
		b.send(edit)
		return
	}
	msg := tgbotapi.NewMessage(r.chatID, text)
	msg.ParseMode = mode
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	b.send(msg)
}

func (b *Bot) answer(r reply, text string, alert bool) {
	if r.callbackID == "" {
		return
	}
	cb := tgbotapi.NewCallback(r.callbackID, text)
	cb.ShowAlert = alert
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Warn("answer callback", zap.Error(err))
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("send to telegram", zap.Error(err))
	}
}

// operatorName is the actor recorded in the audit trail for operator actions.
func operatorName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return "tg:" + strconv.FormatInt(u.ID, 10)
}

func ptr[T any](v T) *T { return &v }
