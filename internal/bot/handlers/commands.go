package handlers

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

// Commands understood by every instance.
const (
	CommandStart    = "/start"
	CommandHelp     = "/help"
	CommandPoints   = "/points"
	CommandReferral = "/referral"
	CommandInvite   = "/invite"
	CommandProfile  = "/profile"
	CommandMemory   = "/memory"
	CommandClear    = "/clear"
	CommandImage    = "/image"
	CommandSettings = "/settings"
	CommandCancel   = "/cancel"
)

// Admin commands.
const (
	CommandAdmin       = "/admin"
	CommandStats       = "/stats"
	CommandBan         = "/ban"
	CommandUnban       = "/unban"
	CommandUserInfo    = "/userinfo"
	CommandGivePoints  = "/givepoints"
	CommandResetPoints = "/resetpoints"
	CommandUsers       = "/users"
	CommandBroadcast   = "/broadcast"
)

// Owner commands.
const (
	CommandAddAdmin    = "/addadmin"
	CommandRemoveAdmin = "/removeadmin"
	CommandCloneStats  = "/clonestats"
	CommandRevokeClone = "/revokeclone"
)

// Clone management, primary bot only.
const (
	CommandCreateBot = "/createbot"
	CommandMyBot     = "/mybot"
	CommandDeleteBot = "/deletebot"
	CommandBotHelp   = "/bothelp"
)

var menuCommands = []string{
	CommandStart,
	CommandHelp,
	CommandImage,
	CommandPoints,
	CommandReferral,
	CommandProfile,
	CommandMemory,
	CommandClear,
	CommandSettings,
	CommandCancel,
}

var primaryMenuCommands = []string{
	CommandCreateBot,
	CommandMyBot,
	CommandDeleteBot,
}

// MenuCommands returns the command list shown in the client's menu.
func MenuCommands(t i18n.Translator, inst access.Instance) []telebot.Command {
	names := menuCommands
	if inst.IsPrimary() {
		names = append(append([]string(nil), menuCommands...), primaryMenuCommands...)
	}

	commands := make([]telebot.Command, 0, len(names))
	for _, name := range names {
		text := name[1:]
		commands = append(commands, telebot.Command{
			Text:        text,
			Description: t.T("commands." + text),
		})
	}
	return commands
}

var knownCommands = func() map[string]struct{} {
	all := []string{
		CommandStart, CommandHelp, CommandPoints, CommandReferral, CommandInvite,
		CommandProfile, CommandMemory, CommandClear, CommandImage, CommandSettings, CommandCancel,
		CommandAdmin, CommandStats, CommandBan, CommandUnban, CommandUserInfo,
		CommandGivePoints, CommandResetPoints, CommandUsers, CommandBroadcast,
		CommandAddAdmin, CommandRemoveAdmin, CommandCloneStats, CommandRevokeClone,
		CommandCreateBot, CommandMyBot, CommandDeleteBot, CommandBotHelp,
	}
	set := make(map[string]struct{}, len(all))
	for _, cmd := range all {
		set[cmd] = struct{}{}
	}
	return set
}()

// KnownCommand reports whether cmd (with its leading slash) is handled by some instance.
func KnownCommand(cmd string) bool {
	_, ok := knownCommands[cmd]
	return ok
}
