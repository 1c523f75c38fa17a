package main

const (
	CmdStart       = "start"
	CmdHelp        = "help"
	CmdList        = "list"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdTop         = "top"
)

const topCount = 5

const (
	errTelegramBotTokenNotFound = "telegram bot token not found"
	errFirebaseCredentialEmpty  = "firebase credential is empty"
)

// Telegram API error descriptions meaning the chat will never accept messages again.
const (
	errChatNotFound      = "Bad Request: chat not found"
	errNotMember         = "Forbidden: bot is not a member of the channel chat"
	errBlocked           = "Forbidden: bot was blocked by the user"
	errKicked            = "Forbidden: bot was kicked from the group chat"
	errUserDeactivated   = "Forbidden: user is deactivated"
	errGroupChatUpgraded = "Bad Request: group chat was upgraded to a supergroup chat"
)

const greetingText = `Welcome! Please send me a catalog ID from re:Store.
Example:
MLP23RU-A

To unsubscribe from an item, send /unsubscribe

Enjoy!`

const helpText = `The bot notifies you when an item on re-store.ru becomes available for purchase without pre-order.

Send me a catalog id, for example:
MLP23RU-A

/list shows your subscriptions
/unsubscribe stops notifications for an item
/top shows the most watched items`
