// Package notifier delivers out-of-band notifications (bot push) for
// events that matter to a single user: being outbid, winning, or having a
// bid reversed by an instant purchase. Delivery runs on the task queue,
// never on the bid placement path.
package notifier

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"bidhouse/internal/domain/entity"
)

// ChatResolver maps a platform user id to a Telegram chat. The default
// routes everything to the operations channel.
type ChatResolver func(userID string) int64

type TelegramNotifier struct {
	bot     *telego.Bot
	resolve ChatResolver
}

func NewTelegramNotifier(token string, opsChatID int64) (*TelegramNotifier, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &TelegramNotifier{
		bot:     bot,
		resolve: func(string) int64 { return opsChatID },
	}, nil
}

func (n *TelegramNotifier) WithChatResolver(resolve ChatResolver) *TelegramNotifier {
	n.resolve = resolve
	return n
}

// Deliver formats and sends one event to the user's chat.
func (n *TelegramNotifier) Deliver(ctx context.Context, userID string, event entity.Event) error {
	msg := tu.Message(
		tu.ID(n.resolve(userID)),
		formatEvent(userID, event),
	).WithParseMode(telego.ModeHTML)

	if _, err := n.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// SendText sends a plain text message to the operations channel.
func (n *TelegramNotifier) SendText(ctx context.Context, text string) error {
	msg := tu.Message(tu.ID(n.resolve("")), text)

	_, err := n.bot.SendMessage(ctx, msg)
	return err
}

func formatEvent(userID string, event entity.Event) string {
	switch event.Kind {
	case entity.EventUserOutbid:
		return fmt.Sprintf(
			"<b>Outbid</b>\nUser: %s\nAuction: %s\nNew price: %s",
			userID, event.AuctionID, event.NewPrice.String(),
		)
	case entity.EventAuctionEnded:
		if event.WinnerID == userID {
			return fmt.Sprintf(
				"<b>You won!</b>\nAuction: %s\nFinal price: %s",
				event.AuctionID, event.NewPrice.String(),
			)
		}
		return fmt.Sprintf("<b>Auction ended</b>\nAuction: %s", event.AuctionID)
	case entity.EventBidReversed:
		return fmt.Sprintf(
			"<b>Bid reversed</b>\nUser: %s\nAuction: %s\nReason: %s",
			userID, event.AuctionID, event.Reason,
		)
	default:
		return fmt.Sprintf("<b>%s</b>\nAuction: %s", event.Kind, event.AuctionID)
	}
}
