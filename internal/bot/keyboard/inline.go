package keyboard

import (
	"errors"
	"fmt"

	telebot "gopkg.in/telebot.v3"
)

// InlineButton is either a callback button (Unique plus optional Data) or a
// link button (URL).
type InlineButton struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

func (b InlineButton) render() (telebot.InlineButton, error) {
	if b.URL != "" {
		return telebot.InlineButton{Text: b.Text, URL: b.URL}, nil
	}
	data, err := EncodeCallback(b.Unique, b.Data)
	if err != nil {
		return telebot.InlineButton{}, err
	}
	return telebot.InlineButton{Text: b.Text, Data: data}, nil
}

// InlineKeyboardBuilder lays out buttons row by row.
type InlineKeyboardBuilder struct {
	rows [][]InlineButton
}

func NewInlineKeyboard() *InlineKeyboardBuilder {
	return &InlineKeyboardBuilder{}
}

// AddRow appends one row. Empty rows are skipped.
func (b *InlineKeyboardBuilder) AddRow(buttons ...InlineButton) *InlineKeyboardBuilder {
	if len(buttons) > 0 {
		b.rows = append(b.rows, append([]InlineButton(nil), buttons...))
	}
	return b
}

// Grid appends buttons in rows of cols; the last row may be shorter.
func (b *InlineKeyboardBuilder) Grid(cols int, buttons ...InlineButton) *InlineKeyboardBuilder {
	cols = max(cols, 1)
	for start := 0; start < len(buttons); start += cols {
		b.AddRow(buttons[start:min(start+cols, len(buttons))]...)
	}
	return b
}

// Build renders the markup, reporting every button whose callback data is too long.
func (b *InlineKeyboardBuilder) Build() (*telebot.ReplyMarkup, error) {
	var errs []error
	keyboard := make([][]telebot.InlineButton, len(b.rows))
	for i, row := range b.rows {
		keyboard[i] = make([]telebot.InlineButton, len(row))
		for j, btn := range row {
			rendered, err := btn.render()
			if err != nil {
				errs = append(errs, fmt.Errorf("row %d button %d %q: %w", i, j, btn.Text, err))
				continue
			}
			keyboard[i][j] = rendered
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &telebot.ReplyMarkup{InlineKeyboard: keyboard}, nil
}

// MustBuild is Build for keyboards made of constant identifiers.
func (b *InlineKeyboardBuilder) MustBuild() *telebot.ReplyMarkup {
	markup, err := b.Build()
	if err != nil {
		panic(err)
	}
	return markup
}
