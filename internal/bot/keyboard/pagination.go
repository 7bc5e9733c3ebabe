package keyboard

import (
	"strconv"

	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

// PaginationButtons builds the navigation row of a paged list. Every button
// carries the target page under the action identifier. Jumps to the first and
// last page appear once they are more than one page away.
func PaginationButtons(t i18n.Translator, action string, page, totalPages int) []InlineButton {
	totalPages = max(totalPages, 1)
	page = min(max(page, 1), totalPages)

	row := make([]InlineButton, 0, 5)
	add := func(label string, target int) {
		row = append(row, InlineButton{Text: label, Unique: action, Data: strconv.Itoa(target)})
	}

	if page > 2 {
		add(t.T("pagination.first"), 1)
	}
	if page > 1 {
		add(t.T("pagination.prev"), page-1)
	}
	add(t.Tf("pagination.page", map[string]any{"Page": page, "Total": totalPages}), page)
	if page < totalPages {
		add(t.T("pagination.next"), page+1)
	}
	if page < totalPages-1 {
		add(t.T("pagination.last"), totalPages)
	}
	return row
}
