package main

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"restock-bot/internal/restock"
)

var commandAliases = map[string]string{
	"add":    CmdSubscribe,
	"sub":    CmdSubscribe,
	"unsub":  CmdUnsubscribe,
	"delete": CmdUnsubscribe,
	"del":    CmdUnsubscribe,
	"hot":    CmdTop,
}

func isChatGone(err error) bool {
	switch err.Error() {
	case errChatNotFound, errNotMember, errBlocked, errKicked, errUserDeactivated, errGroupChatUpgraded:
		return true
	default:
		return false
	}
}

func resolveCommand(command string) string {
	command = strings.ToLower(command)
	if alias, ok := commandAliases[command]; ok {
		return alias
	}

	return command
}

// unsubscribeKeyboard renders one button per item, to be hidden after use.
func unsubscribeKeyboard(items []*restock.Item) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, len(items))
	for i, item := range items {
		rows[i] = tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(restock.MenuLabel(item)))
	}

	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true
	return keyboard
}
