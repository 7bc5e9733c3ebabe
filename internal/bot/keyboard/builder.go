// Package keyboard renders the inline and reply keyboards of every bot instance.
package keyboard

import (
	"log/slog"
	"net/url"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

// Builder creates localized inline keyboards.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// MainMenu is attached to the /start greeting.
func (b *Builder) MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	items := []string{"points", "referral", "profile", "help"}
	buttons := make([]InlineButton, len(items))
	for i, item := range items {
		buttons[i] = InlineButton{Text: t.T("menu." + item), Unique: CallbackMenu, Data: item}
	}
	return NewInlineKeyboard().Grid(2, buttons...).MustBuild()
}

// Settings offers the language toggle; the current language is marked.
func (b *Builder) Settings(t i18n.Translator, current string) *telebot.ReplyMarkup {
	label := func(lang, key string) string {
		if lang == current {
			return "✅ " + t.T(key)
		}
		return t.T(key)
	}

	return NewInlineKeyboard().
		AddRow(
			InlineButton{Text: label(domain.LanguageIndonesian, "settings.language_id"), Unique: CallbackLanguage, Data: domain.LanguageIndonesian},
			InlineButton{Text: label(domain.LanguageEnglish, "settings.language_en"), Unique: CallbackLanguage, Data: domain.LanguageEnglish},
		).
		MustBuild()
}

// Confirm builds a yes/no pair for the given callback identifier.
func (b *Builder) Confirm(t i18n.Translator, unique string) *telebot.ReplyMarkup {
	return NewInlineKeyboard().
		AddRow(
			InlineButton{Text: t.T("buttons.confirm"), Unique: unique, Data: ActionConfirm},
			InlineButton{Text: t.T("buttons.cancel"), Unique: unique, Data: ActionCancel},
		).
		MustBuild()
}

// Share links to the referral deep link.
func (b *Builder) Share(t i18n.Translator, link string) *telebot.ReplyMarkup {
	return NewInlineKeyboard().
		AddRow(InlineButton{Text: t.T("buttons.share"), URL: "https://t.me/share/url?url=" + url.QueryEscape(link)}).
		MustBuild()
}

// Pages renders pagination for a list; nil when everything fits on one page.
func (b *Builder) Pages(t i18n.Translator, unique string, page, total int) *telebot.ReplyMarkup {
	if total <= 1 {
		return nil
	}

	markup, err := NewInlineKeyboard().AddRow(PaginationButtons(t, unique, page, total)...).Build()
	if err != nil {
		b.log.Warn("failed to build pagination keyboard", slog.Any("error", err))
		return nil
	}
	return markup
}
