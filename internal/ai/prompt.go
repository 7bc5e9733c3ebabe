package ai

import (
	"fmt"
	"strings"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

const defaultBotName = "Gemini Assistant"

const systemPromptTemplate = `You are %s, a friendly and knowledgeable AI assistant on Telegram.
Answer in %s unless the user writes in another language, then answer in theirs.
Be accurate and concise. Admit when you do not know something and suggest alternatives.
Refuse harmful, illegal or unethical requests politely. Respect the user's privacy.
Use plain text or simple Markdown that renders in Telegram.`

func systemPrompt(custom, botName, language string) string {
	if strings.TrimSpace(botName) == "" {
		botName = defaultBotName
	}
	if custom != "" {
		return strings.ReplaceAll(custom, "{bot_name}", botName)
	}
	return fmt.Sprintf(systemPromptTemplate, botName, languageName(language))
}

func defaultVisionPrompt(language string) string {
	if language == domain.LanguageIndonesian {
		return "Deskripsikan gambar ini secara detail dalam bahasa Indonesia."
	}
	return "Describe this image in detail."
}

func languageName(language string) string {
	if language == domain.LanguageEnglish {
		return "English"
	}
	return "Indonesian"
}
