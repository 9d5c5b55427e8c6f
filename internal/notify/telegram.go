package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the subset of the bot API used for alerts.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter forwards events that need staff attention to a set of chats.
type TelegramAlerter struct {
	tg    TelegramSender
	chats []int64
}

func NewTelegramAlerter(token string, chats []int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramAlerterWithSender(bot, chats), nil
}

func NewTelegramAlerterWithSender(tg TelegramSender, chats []int64) *TelegramAlerter {
	return &TelegramAlerter{tg: tg, chats: chats}
}

func (a *TelegramAlerter) Publish(_ context.Context, ev Event) error {
	text := FormatAlert(ev)
	var errs []error
	for _, chatID := range a.chats {
		if _, err := a.tg.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// FormatAlert renders an event as a short staff message.
func FormatAlert(ev Event) string {
	var sb strings.Builder
	switch ev.Type {
	case EventBookingPartialFailure:
		sb.WriteString("⚠️ Booking conversion partially failed\n")
	case EventBookingReconciled:
		sb.WriteString("🔧 Booking reconciled\n")
	default:
		sb.WriteString("ℹ️ " + ev.Type + "\n")
	}
	if ev.BookingID != "" {
		fmt.Fprintf(&sb, "Booking: %s\n", ev.BookingID)
	}
	if ev.RoomID > 0 {
		fmt.Fprintf(&sb, "Room: %d\n", ev.RoomID)
	}
	if len(ev.ReservationIDs) > 0 {
		fmt.Fprintf(&sb, "Reservations: %s\n", strings.Join(ev.ReservationIDs, ", "))
	}
	if ev.Message != "" {
		sb.WriteString(ev.Message)
	}
	return strings.TrimRight(sb.String(), "\n")
}
