package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Callback data of the inline buttons.
const (
	cbCheck         = "check"
	cbAbsent        = "absent"
	cbLocations     = "locations"
	cbDeleteStart   = "delete_start"
	cbDeleteCancel  = "delete_cancel"
	cbResetConfirm  = "reset_confirm"
	cbResetYes      = "reset_yes"
	cbResetNo       = "reset_no"
	cbSelectPrefix  = "del_"
	cbConfirmPrefix = "confirm_del_"
)

const (
	textWelcome = "👋 *Добро пожаловать в СКУД-лайт!*\n\n" +
		"Я помогу вам отслеживать присутствие жильцов.\n\n" +
		"📊 /check — сводка по личному составу\n" +
		"📋 /absent — список отсутствующих\n" +
		"📍 /locations — местоположение отсутствующих\n" +
		"🗑 /delete — удалить пользователя\n" +
		"🔄 /reset — сбросить все статусы\n\n" +
		"Или используйте кнопки ниже:"
	textDenied        = "⛔ Доступ запрещён.\n\nВаш ID: `%d`\nОбратитесь к администратору для получения доступа."
	textDeniedShort   = "⛔ Доступ запрещён"
	textServerError   = "❌ Ошибка связи с сервером"
	textBadInput      = "❌ Некорректный запрос"
	textNotFound      = "❌ Пользователь не найден"
	textNobodyAbsent  = "✅ Все на месте! Отсутствующих нет."
	textNoLocations   = "📍 Нет данных о местоположении.\n\nГеолокация сохраняется при смене статуса, если жилец разрешил доступ к GPS."
	textDeletePrompt  = "🔍 *Удаление пользователя*\n\nВведите ФИО (или часть) для поиска:\n\n_Отправьте /cancel для отмены_"
	textQueryTooShort = "❌ Введите минимум 2 символа для поиска"
	textNoMatches     = "🔍 По запросу «%s» ничего не найдено.\n\nПопробуйте другой запрос или /cancel для отмены."
	textCandidates    = "🔍 Найдено *%d* пользователей:\n\nНажмите на пользователя для удаления:"
	textConfirmDelete = "⚠️ *Вы уверены?*\n\nПользователь будет удалён из системы.\nЭто действие нельзя отменить!"
	textDeleted       = "✅ *Готово!*\n\n%s"
	textDeletedAlert  = "✅ Пользователь удалён!"
	textDeleteFailed  = "❌ Ошибка удаления"
	textExpired       = "⌛ Подтверждение устарело. Начните удаление заново."
	textExpiredAlert  = "⌛ Подтверждение устарело"
	textDeleteAborted = "🔙 Удаление отменено"
	textCancelled     = "🔙 Операция отменена"
	textAborted       = "Отменено"
	textConfirmReset  = "⚠️ *Вы уверены?*\n\nЭто сбросит статусы ВСЕХ пользователей на \"В здании\"."
	textResetDone     = "✅ *Готово!*\n\nВсе статусы сброшены на \"В здании\".\n_Затронуто: %d чел._"
	textResetAlert    = "✅ Статусы сброшены!"
	textResetFailed   = "❌ Ошибка сброса"
	textBackToMenu    = "🔙 Возврат в меню"
)

func mainKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 Сводка", cbCheck)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Список отсутствующих", cbAbsent)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📍 Местоположение", cbLocations)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить пользователя", cbDeleteStart)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Сбросить все статусы", cbResetConfirm)),
	)
}

func resetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Да, сбросить", cbResetYes),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", cbResetNo),
	))
}

func confirmKeyboard(id int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Да, удалить", cbConfirmPrefix+strconv.FormatInt(id, 10)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", cbDeleteCancel),
	))
}

func candidatesKeyboard(found []schema.RosterEntry) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(found)+1)
	for _, p := range found {
		label := fmt.Sprintf("🗑 %s (%s)", p.FullName, p.StatusLabel)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbSelectPrefix+strconv.FormatInt(p.ID, 10)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", cbDeleteCancel)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func md(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }

func summaryText(c schema.Counts) string {
	return "📊 *Сводка по личному составу:*\n\n" +
		fmt.Sprintf("✅ *На месте:* %d чел.\n", c.Inside) +
		fmt.Sprintf("❌ *Отсутствуют:* %d чел.\n", c.Absent()) +
		fmt.Sprintf("    — На работе: %d\n", c.Work) +
		fmt.Sprintf("    — На сутки: %d\n", c.DayOff) +
		fmt.Sprintf("    — По заявлению: %d\n\n", c.Request) +
		fmt.Sprintf("👥 _Всего в базе: %d чел._", c.Total)
}

func absentText(absent []schema.AbsentPerson) string {
	if len(absent) == 0 {
		return textNobodyAbsent
	}
	var b strings.Builder
	b.WriteString("📋 *Список отсутствующих:*\n\n")
	for i, p := range absent {
		gps := ""
		if p.HasLocation {
			gps = " 📍"
		}
		fmt.Fprintf(&b, "%d. %s (%s)%s\n", i+1, md(p.FullName), p.StatusLabel, gps)
	}
	fmt.Fprintf(&b, "\n_Всего: %d чел._\n", len(absent))
	b.WriteString("\n📍 = есть GPS, нажмите «Местоположение»")
	return b.String()
}

func locationsHeader(n int) string {
	return fmt.Sprintf("📍 *Местоположение отсутствующих:*\n\n_%d чел. с GPS_", n)
}

func locationCaption(p schema.AbsentPerson) string {
	return fmt.Sprintf("👤 *%s*\n📌 %s", md(p.FullName), p.StatusLabel)
}

// errorText picks the operator message for a failed service call.
func errorText(err error) string {
	switch {
	case errors.Is(err, schema.ErrValidation):
		return textBadInput
	case errors.Is(err, schema.ErrNotFound):
		return textNotFound
	default:
		return textServerError
	}
}

// parseID reads the candidate id following prefix in callback data.
func parseID(data, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
