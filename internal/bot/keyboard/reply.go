package keyboard

import (
	telebot "gopkg.in/telebot.v3"
)

// Reply keyboard buttons send their label as a message, so labels are the commands themselves.
var (
	userMenuRows = [][]string{
		{"/image", "/points"},
		{"/referral", "/profile"},
		{"/memory", "/help"},
	}
	primaryMenuRow = []string{"/createbot", "/mybot"}
)

// CommandMenu builds the persistent reply keyboard. The primary bot adds the clone commands.
func CommandMenu(primary bool) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{ResizeKeyboard: true}

	rows := make([]telebot.Row, 0, len(userMenuRows)+1)
	for _, labels := range userMenuRows {
		rows = append(rows, textRow(markup, labels))
	}
	if primary {
		rows = append(rows, textRow(markup, primaryMenuRow))
	}

	markup.Reply(rows...)
	return markup
}

func textRow(markup *telebot.ReplyMarkup, labels []string) telebot.Row {
	buttons := make([]telebot.Btn, 0, len(labels))
	for _, label := range labels {
		buttons = append(buttons, markup.Text(label))
	}
	return markup.Row(buttons...)
}
