package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/ai"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

const maxPhotoBytes = 10 << 20

// Chat answers free text with the model, using the stored history of this bot.
func (h *Handlers) Chat(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	prompt := strings.TrimSpace(c.Text())
	if prompt == "" || strings.HasPrefix(prompt, "/") {
		return c.Send(s.T.T("chat.unknown_command"))
	}

	h.notify(c, telebot.Typing)

	uid, botID := s.User.TelegramID, s.Instance.BotID
	history, err := h.Memory.History(s.Ctx, uid, botID)
	if err != nil {
		h.log.Warn("chat without history", slog.Int64("telegram_id", uid), slog.Any("error", err))
	}

	reply, err := h.AI.Chat(s.Ctx, ai.ChatRequest{
		BotName:  s.BotName(),
		Language: s.User.Language,
		History:  history,
		Prompt:   prompt,
	})
	if err != nil {
		return err
	}

	h.Memory.Remember(s.Ctx, uid, botID, domain.MessageKindText, prompt, reply)
	h.recordUsage(s, 1, 0)

	return sendLong(c, reply)
}

// Photo describes an uploaded photo, answering the caption as the question.
func (h *Handlers) Photo(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}

	h.notify(c, telebot.Typing)

	image, err := h.download(c, &msg.Photo.File)
	if err != nil {
		return err
	}

	caption := strings.TrimSpace(msg.Caption)
	reply, err := h.AI.DescribeImage(s.Ctx, image, "image/jpeg", caption, s.User.Language)
	if err != nil {
		return err
	}

	prompt := caption
	if prompt == "" {
		prompt = "[photo]"
	}
	h.Memory.Remember(s.Ctx, s.User.TelegramID, s.Instance.BotID, domain.MessageKindPhoto, prompt, reply)
	h.recordUsage(s, 1, 0)

	return sendLong(c, reply)
}

// Image generates a picture for one point. The point is refunded when generation or delivery fails.
func (h *Handlers) Image(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	prompt := strings.TrimSpace(c.Message().Payload)
	if prompt == "" {
		return c.Send(s.T.T("image.usage"))
	}

	h.notify(c, telebot.UploadingPhoto)

	err = h.Deps.Points.Spend(s.Ctx, s.User.TelegramID, func(ctx context.Context) error {
		data, err := h.AI.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}

		photo := &telebot.Photo{
			File:    telebot.FromReader(bytes.NewReader(data)),
			Caption: s.T.Tf("image.caption", map[string]any{"Prompt": truncateCaption(prompt)}),
		}
		return c.Send(photo)
	})
	if err != nil {
		return err
	}

	h.Memory.Remember(s.Ctx, s.User.TelegramID, s.Instance.BotID, domain.MessageKindImage, prompt, "[image]")
	h.recordUsage(s, 0, 1)
	return nil
}

func (h *Handlers) download(c telebot.Context, file *telebot.File) ([]byte, error) {
	reader, err := c.Bot().File(file)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxPhotoBytes))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	return data, nil
}

func (h *Handlers) notify(c telebot.Context, action telebot.ChatAction) {
	if err := c.Notify(action); err != nil {
		h.log.Debug("failed to send chat action", slog.Any("error", err))
	}
}

func (h *Handlers) recordUsage(s *Session, messages, images int) {
	if err := h.Deps.Users.RecordUsage(s.Ctx, s.User.TelegramID, messages, images); err != nil {
		h.log.Warn("failed to record usage", slog.Int64("telegram_id", s.User.TelegramID), slog.Any("error", err))
	}
	if h.Deps.Stats == nil {
		return
	}
	if err := h.Deps.Stats.Increment(s.Ctx, s.Instance.BotID, messages, images); err != nil {
		h.log.Warn("failed to record bot stats", slog.Int64("bot_id", s.Instance.BotID), slog.Any("error", err))
	}
}

func truncateCaption(prompt string) string {
	const limit = 900
	runes := []rune(prompt)
	if len(runes) <= limit {
		return prompt
	}
	return string(runes[:limit]) + "…"
}
