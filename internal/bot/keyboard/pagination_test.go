package keyboard_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

func testTranslator(t *testing.T, lang string) i18n.Translator {
	t.Helper()
	manager, err := i18n.Load(domain.LanguageEnglish)
	require.NoError(t, err)
	return manager.Translator(lang)
}

func TestPaginationButtons(t *testing.T) {
	tr := testTranslator(t, domain.LanguageEnglish)

	testCases := []struct {
		name     string
		page     int
		total    int
		wantData []string
		current  string
		label    string
	}{
		{name: "first page", page: 1, total: 3, wantData: []string{"1", "2", "3"}, current: "1", label: "1/3"},
		{name: "middle page", page: 2, total: 3, wantData: []string{"1", "2", "3"}, current: "2", label: "2/3"},
		{name: "last page", page: 3, total: 3, wantData: []string{"1", "2", "3"}, current: "3", label: "3/3"},
		{name: "long list", page: 4, total: 9, wantData: []string{"1", "3", "4", "5", "9"}, current: "4", label: "4/9"},
		{name: "clamped", page: 9, total: 2, wantData: []string{"1", "2"}, current: "2", label: "2/2"},
		{name: "single page", page: 1, total: 0, wantData: []string{"1"}, current: "1", label: "1/1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buttons := keyboard.PaginationButtons(tr, keyboard.CallbackUsers, tc.page, tc.total)

			data := make([]string, 0, len(buttons))
			for _, btn := range buttons {
				assert.Equal(t, keyboard.CallbackUsers, btn.Unique)
				data = append(data, btn.Data)
				if btn.Data == tc.current {
					assert.Equal(t, tc.label, btn.Text)
				}
			}
			assert.Equal(t, tc.wantData, data)
		})
	}
}

func TestBuilder_Settings_MarksCurrentLanguage(t *testing.T) {
	tr := testTranslator(t, domain.LanguageIndonesian)
	markup := keyboard.NewBuilder(slog.Default()).Settings(tr, domain.LanguageEnglish)

	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	assert.NotContains(t, row[0].Text, "✅")
	assert.Contains(t, row[1].Text, "✅")
	assert.Equal(t, "lang:en", row[1].Data)
}

func TestBuilder_PagesHiddenForSinglePage(t *testing.T) {
	tr := testTranslator(t, domain.LanguageEnglish)
	builder := keyboard.NewBuilder(nil)
	assert.Nil(t, builder.Pages(tr, keyboard.CallbackUsers, 1, 1))
	assert.NotNil(t, builder.Pages(tr, keyboard.CallbackUsers, 1, 2))
}
