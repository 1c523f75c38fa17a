package restock

import (
	"fmt"
	"regexp"
	"strings"
)

var menuLabelRegexp = regexp.MustCompile(`^\[(.+?)\] - `)

// MenuLabel renders an item as an unsubscribe menu button.
func MenuLabel(item *Item) string {
	return fmt.Sprintf("[%s] - %s", item.ID, item.Title)
}

// ParseMenuLabel extracts the item id from a menu button text.
func ParseMenuLabel(text string) (string, bool) {
	match := menuLabelRegexp.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}

	return match[1], true
}

func statusText(purchasable bool) string {
	if purchasable {
		return "available for purchase"
	}

	return "not available for purchase"
}

// NotificationText is sent to subscribers when an item changes its status.
func NotificationText(item *Item, link string) string {
	var b strings.Builder
	if item.Status {
		fmt.Fprintf(&b, "%s [%s] is now %s!", item.Title, item.ID, statusText(true))
	} else {
		fmt.Fprintf(&b, "%s [%s] is %s anymore.", item.Title, item.ID, statusText(false))
	}

	if link != "" {
		b.WriteString("\n")
		b.WriteString(link)
	}

	return b.String()
}

func subscribeText(item *Item, outcome SubscribeOutcome) string {
	var head string
	switch outcome {
	case Resubscribed:
		head = fmt.Sprintf("Subscribed to %s [%s] again.", item.Title, item.ID)
	case AlreadySubscribed:
		head = fmt.Sprintf("You are already subscribed to %s [%s].", item.Title, item.ID)
	default:
		head = fmt.Sprintf("Subscribed to %s [%s].", item.Title, item.ID)
	}

	return fmt.Sprintf("%s Currently purchasable: %t.", head, item.Status)
}

func listText(items []*Item) string {
	if len(items) == 0 {
		return "Your list is empty."
	}

	var b strings.Builder
	for idx, item := range items {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", idx+1, item.ID, item.Title, statusText(item.Status))
	}

	return b.String()
}

func topText(top []Popularity) string {
	if len(top) == 0 {
		return "Not enough data."
	}

	var b strings.Builder
	for idx, entry := range top {
		fmt.Fprintf(&b, "%d. [%s] %s (👥 %d)\n", idx+1, entry.Item.ID, entry.Item.Title, entry.Count)
	}

	return b.String()
}
