package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sms-range-relay/internal/adapters/telegram"
	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
	"sms-range-relay/internal/usecase/ranges"
)

// pendingTTL ограничивает время жизни запроса на подтверждение замены.
const pendingTTL = 5 * time.Minute

type pendingReplace struct {
	oldRange  string
	newRange  string
	requested time.Time
}

// Handler обслуживает команды бота управления диапазонами.
type Handler struct {
	bot      *tgbotapi.BotAPI
	log      zerolog.Logger
	rangesUC *ranges.Service

	mu      sync.Mutex
	pending map[int64]pendingReplace
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, logger zerolog.Logger, rangesUC *ranges.Service) *Handler {
	return &Handler{
		bot:      bot,
		log:      logger,
		rangesUC: rangesUC,
		pending:  make(map[int64]pendingReplace),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.From == nil {
		return
	}
	h.handleMessage(ctx, upd.Message)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	userID := msg.From.ID

	set, err := h.rangesUC.AccessSet(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: списки доступа недоступны")
		h.reply(chatID, "Service is temporarily unavailable, try again later.")
		return
	}
	if set.IsBanned(userID) {
		return
	}

	if strings.HasPrefix(text, "/start") {
		h.handleStart(chatID, userID, set)
		return
	}
	if !set.MayUse(userID) {
		h.reply(chatID, fmt.Sprintf("You are not approved yet. Ask an admin to approve your id `%d`.", userID))
		return
	}

	isAdmin := set.IsAdmin(userID)
	switch {
	case strings.HasPrefix(text, "/help"):
		h.reply(chatID, h.buildHelpMessage(isAdmin))
	case strings.HasPrefix(text, "/addrange"):
		h.handleClaim(ctx, chatID, userID, payload(text, "/addrange"), isAdmin)
	case strings.HasPrefix(text, "/add"):
		h.handleClaim(ctx, chatID, userID, payload(text, "/add"), isAdmin)
	case strings.HasPrefix(text, "/confirm"):
		h.handleConfirm(ctx, chatID, userID)
	case strings.HasPrefix(text, "/cancel"):
		h.handleCancel(chatID, userID)
	case strings.HasPrefix(text, "/deleteall"):
		h.handleReleaseAll(ctx, chatID, userID, isAdmin)
	case strings.HasPrefix(text, "/delete"):
		h.handleRelease(ctx, chatID, userID, payload(text, "/delete"), isAdmin)
	case strings.HasPrefix(text, "/view"):
		h.handleView(ctx, chatID, payload(text, "/view"))
	case strings.HasPrefix(text, "/active"):
		h.handleActive(ctx, chatID)
	case strings.HasPrefix(text, "/my"):
		h.handleMy(ctx, chatID, userID)
	case strings.HasPrefix(text, "/approve"):
		h.handleAccessChange(ctx, chatID, payload(text, "/approve"), isAdmin, h.rangesUC.Grant, domain.RoleApproved, "approved")
	case strings.HasPrefix(text, "/revoke"):
		h.handleAccessChange(ctx, chatID, payload(text, "/revoke"), isAdmin, h.rangesUC.Revoke, domain.RoleApproved, "revoked")
	case strings.HasPrefix(text, "/unban"):
		h.handleAccessChange(ctx, chatID, payload(text, "/unban"), isAdmin, h.rangesUC.Revoke, domain.RoleBanned, "unbanned")
	case strings.HasPrefix(text, "/ban"):
		h.handleAccessChange(ctx, chatID, payload(text, "/ban"), isAdmin, h.rangesUC.Grant, domain.RoleBanned, "banned")
	default:
		h.reply(chatID, "Unknown command. Use /help.")
	}
}

func payload(text, command string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, command))
}

func (h *Handler) handleStart(chatID, userID int64, set domain.AccessSet) {
	if !set.MayUse(userID) {
		h.reply(chatID, fmt.Sprintf("Welcome! Access is restricted. Ask an admin to approve your id `%d`.", userID))
		return
	}
	h.reply(chatID, h.buildHelpMessage(set.IsAdmin(userID)))
}

func (h *Handler) handleClaim(ctx context.Context, chatID, userID int64, rangeName string, isAdmin bool) {
	if rangeName == "" {
		h.reply(chatID, "Send /add <range name>.")
		return
	}
	decision, err := h.rangesUC.RequestClaim(ctx, userID, chatID, rangeName, isAdmin)
	if err != nil {
		h.log.Error().Err(err).Str("range", rangeName).Msg("bot: заявка на диапазон не принята")
		h.reply(chatID, "Could not queue the request, try again later.")
		return
	}
	if decision.Existing != nil {
		h.setPending(userID, pendingReplace{
			oldRange:  decision.Existing.RangeName,
			newRange:  rangeName,
			requested: time.Now(),
		})
		h.reply(chatID, fmt.Sprintf(
			"You already hold range `%s`. Send /confirm to replace it with `%s`, or /cancel to keep it.",
			decision.Existing.RangeName, rangeName))
		return
	}
	h.reply(chatID, fmt.Sprintf("Adding range `%s`, you will get the number list shortly.", rangeName))
}

func (h *Handler) handleConfirm(ctx context.Context, chatID, userID int64) {
	pending, ok := h.takePending(userID)
	if !ok {
		h.reply(chatID, "Nothing to confirm. Send /add <range name> first.")
		return
	}
	if err := h.rangesUC.ConfirmReplace(ctx, userID, chatID, pending.oldRange, pending.newRange); err != nil {
		h.log.Error().Err(err).Msg("bot: замена диапазона не поставлена в очередь")
		h.reply(chatID, "Could not queue the replacement, try again later.")
		return
	}
	h.reply(chatID, fmt.Sprintf("Replacing `%s` with `%s`, you will get the number list shortly.", pending.oldRange, pending.newRange))
}

func (h *Handler) handleCancel(chatID, userID int64) {
	if _, ok := h.takePending(userID); !ok {
		h.reply(chatID, "Nothing to cancel.")
		return
	}
	h.reply(chatID, "Cancelled, your current range stays.")
}

func (h *Handler) handleRelease(ctx context.Context, chatID, userID int64, rangeName string, isAdmin bool) {
	if rangeName == "" {
		h.reply(chatID, "Send /delete <range name>.")
		return
	}
	if _, err := h.rangesUC.RequestRelease(ctx, userID, chatID, rangeName, isAdmin); err != nil {
		if errors.Is(err, ranges.ErrForeignRange) {
			h.reply(chatID, fmt.Sprintf("Range `%s` is not yours. Check /my.", rangeName))
			return
		}
		h.log.Error().Err(err).Str("range", rangeName).Msg("bot: освобождение не поставлено в очередь")
		h.reply(chatID, "Could not queue the request, try again later.")
		return
	}
	h.reply(chatID, fmt.Sprintf("Releasing range `%s`.", rangeName))
}

func (h *Handler) handleReleaseAll(ctx context.Context, chatID, userID int64, isAdmin bool) {
	if !isAdmin {
		h.reply(chatID, "Only admins can release everything.")
		return
	}
	if _, err := h.rangesUC.RequestReleaseAll(ctx, userID, chatID); err != nil {
		h.log.Error().Err(err).Msg("bot: полное освобождение не поставлено в очередь")
		h.reply(chatID, "Could not queue the request, try again later.")
		return
	}
	h.reply(chatID, "Releasing all numbers on the panel.")
}

func (h *Handler) handleView(ctx context.Context, chatID int64, rangeName string) {
	if rangeName == "" {
		h.reply(chatID, "Send /view <range name>.")
		return
	}
	numbers, err := h.rangesUC.ViewNumbers(ctx, rangeName)
	if err != nil {
		h.log.Error().Err(err).Str("range", rangeName).Msg("bot: просмотр номеров не удался")
		h.reply(chatID, "Could not fetch the numbers, try again later.")
		return
	}
	if len(numbers) == 0 {
		h.reply(chatID, fmt.Sprintf("No numbers found in range `%s`.", rangeName))
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Numbers in range `%s` (%d):\n", rangeName, len(numbers))
	for _, n := range numbers {
		b.WriteString("`+" + n.Number + "`\n")
	}
	h.reply(chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) handleActive(ctx context.Context, chatID int64) {
	overview, err := h.rangesUC.ActiveOverview(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: сводка панели не удалась")
		h.reply(chatID, "Could not fetch the panel overview, try again later.")
		return
	}
	if len(overview.Ranges) == 0 {
		h.reply(chatID, "No active ranges on the panel.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active ranges (%d numbers):\n", overview.TotalNumbers)
	for _, r := range overview.Ranges {
		b.WriteString("- `" + r.RangeName + "`\n")
	}
	h.reply(chatID, strings.TrimRight(b.String(), "\n"))
}

func (h *Handler) handleMy(ctx context.Context, chatID, userID int64) {
	assignment, ok, err := h.rangesUC.UserAssignment(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: чтение реестра не удалось")
		h.reply(chatID, "Could not read the ledger, try again later.")
		return
	}
	if !ok {
		h.reply(chatID, "You hold no range. Send /add <range name> to claim one.")
		return
	}
	h.reply(chatID, fmt.Sprintf("Your range: `%s` (claimed %s).",
		assignment.RangeName, assignment.AddedAt.Format("2006-01-02 15:04")))
}

type accessFn func(ctx context.Context, userID int64, role domain.AccessRole) error

func (h *Handler) handleAccessChange(ctx context.Context, chatID int64, rawID string, isAdmin bool, fn accessFn, role domain.AccessRole, verb string) {
	if !isAdmin {
		h.reply(chatID, "Only admins can manage access.")
		return
	}
	targetID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || targetID == 0 {
		h.reply(chatID, "Send a numeric telegram id, e.g. /approve 123456789.")
		return
	}
	if err := fn(ctx, targetID, role); err != nil {
		h.log.Error().Err(err).Int64("target", targetID).Msg("bot: изменение доступа не удалось")
		h.reply(chatID, "Could not update access, try again later.")
		return
	}
	h.reply(chatID, fmt.Sprintf("User `%d` %s.", targetID, verb))
}

func (h *Handler) setPending(userID int64, p pendingReplace) {
	h.mu.Lock()
	h.pending[userID] = p
	h.mu.Unlock()
}

func (h *Handler) takePending(userID int64) (pendingReplace, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[userID]
	if !ok {
		return pendingReplace{}, false
	}
	delete(h.pending, userID)
	if time.Since(p.requested) > pendingTTL {
		return pendingReplace{}, false
	}
	return p, true
}

func (h *Handler) reply(chatID int64, text string) {
	parts := telegram.SplitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) buildHelpMessage(isAdmin bool) string {
	lines := []string{
		"SMS range relay commands:",
		"",
		"• /add <range> — claim a range and get its numbers.",
		"• /delete <range> — release your range.",
		"• /my — show your current range.",
		"• /view <range> — list the numbers of a range.",
		"• /active — show active ranges on the panel.",
	}
	if isAdmin {
		lines = append(lines,
			"",
			"Admin commands:",
			"• /deleteall — release every number on the panel.",
			"• /approve <id>, /revoke <id> — manage operators.",
			"• /ban <id>, /unban <id> — block or restore a user.",
		)
	}
	return strings.Join(lines, "\n")
}
