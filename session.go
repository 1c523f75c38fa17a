package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"restock-bot/internal/restock"
)

// Session receives Telegram updates and delivers notifications.
type Session struct {
	bot      *tgbotapi.BotAPI
	commands *restock.Commands
	wg       sync.WaitGroup
}

func NewSession(token string, commands *restock.Commands) (*Session, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "create bot api")
	}

	log.WithField("username", bot.Self.UserName).Info("telegram bot authorized")
	return &Session{
		bot:      bot,
		commands: commands,
	}, nil
}

// Run handles updates until ctx is done. Each message is handled in its own
// goroutine; Run waits for them before returning.
func (session *Session) Run(ctx context.Context) {
	defer session.wg.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 10

	updates, err := session.bot.GetUpdatesChan(u)
	if err != nil {
		log.WithError(err).Error("failed to receive updates")
		return
	}

	for {
		select {
		case <-ctx.Done():
			session.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			message := update.Message
			if message == nil {
				message = update.ChannelPost
			}

			if message == nil {
				log.WithField("update", update.UpdateID).Debug("unable to handle update")
				continue
			}

			session.wg.Add(1)
			go func() {
				defer session.wg.Done()
				session.handleMessage(ctx, message)
			}()
		}
	}
}

// Notify implements restock.Notifier.
func (session *Session) Notify(ctx context.Context, subscriber restock.SubscriberID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(int64(subscriber), text)
	if _, err := session.bot.Send(msg); err != nil {
		if isChatGone(err) {
			return errors.Wrapf(restock.ErrSubscriberGone, "send to %d: %v", subscriber, err)
		}

		return errors.Wrapf(err, "send to %d", subscriber)
	}

	return nil
}

func (session *Session) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	subscriber := restock.SubscriberID(message.Chat.ID)
	logger := log.WithField("subscriber", subscriber)
	logger.WithField("text", message.Text).Debug("message received")

	if message.IsCommand() {
		argument := strings.TrimSpace(message.CommandArguments())
		switch resolveCommand(message.Command()) {
		case CmdStart:
			session.reply(message, greetingText)
		case CmdHelp:
			session.reply(message, helpText)
		case CmdList:
			session.reply(message, session.commands.HandleList(ctx, subscriber))
		case CmdSubscribe:
			if argument == "" {
				session.reply(message, "Send me a catalog id to subscribe.")
				return
			}

			session.subscribe(ctx, message, argument)
		case CmdUnsubscribe:
			if argument == "" {
				session.sendUnsubscribeMenu(ctx, message)
				return
			}

			session.reply(message, session.commands.HandleUnsubscribe(ctx, subscriber, argument))
		case CmdTop:
			session.reply(message, session.commands.HandleTop(ctx, topCount))
		default:
			session.reply(message, "Unknown command, see /help.")
		}

		return
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}

	if id, ok := restock.ParseMenuLabel(text); ok {
		msg := newReply(message, session.commands.HandleUnsubscribe(ctx, subscriber, id))
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
		session.send(msg)
		return
	}

	session.subscribe(ctx, message, text)
}

func (session *Session) subscribe(ctx context.Context, message *tgbotapi.Message, text string) {
	session.reply(message, fmt.Sprintf("Checking %s...", text))
	session.reply(message, session.commands.HandleSubscribe(ctx, restock.SubscriberID(message.Chat.ID), text))
}

func (session *Session) sendUnsubscribeMenu(ctx context.Context, message *tgbotapi.Message) {
	items, err := session.commands.ListSubscriptions(ctx, restock.SubscriberID(message.Chat.ID))
	if err != nil {
		log.WithError(err).Warn("failed to build unsubscribe menu")
		session.reply(message, "Oops, something wrong happened.")
		return
	}

	if len(items) == 0 {
		session.reply(message, "Nothing to unsubscribe.")
		return
	}

	msg := newReply(message, "Select an item to unsubscribe.")
	msg.ReplyMarkup = unsubscribeKeyboard(items)
	session.send(msg)
}

func (session *Session) reply(message *tgbotapi.Message, text string) {
	session.send(newReply(message, text))
}

func (session *Session) send(msg tgbotapi.MessageConfig) {
	if _, err := session.bot.Send(msg); err != nil {
		logger := log.WithError(err).WithField("subscriber", msg.ChatID)
		if isChatGone(err) {
			logger.Info("chat is gone, reply dropped")
			return
		}

		logger.Warn("failed to send message")
	}
}

func newReply(message *tgbotapi.Message, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	msg.DisableWebPagePreview = true
	return msg
}
