package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"gopkg.in/telebot.v3"

	"dicegame/internal/logger"
	"dicegame/internal/storage"
)

// solDecimals is the lamport exponent of one SOL
const solDecimals = 9

// Sender is the part of *telebot.Bot used for notifications
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// ChatLookup resolves the Telegram chat bound to a wallet (0 if none)
type ChatLookup interface {
	TelegramID(ctx context.Context, owner solana.PublicKey) (int64, error)
}

// NotificationService posts settlements to a Telegram channel and to the
// player's linked chat
type NotificationService struct {
	bot       Sender
	chats     ChatLookup
	mu        sync.Mutex
	channelID string
}

// NewNotificationService creates a notification service. channelID may be
// empty, a numeric chat id or an @username.
func NewNotificationService(bot Sender, chats ChatLookup, channelID string) *NotificationService {
	return &NotificationService{
		bot:       bot,
		chats:     chats,
		channelID: channelID,
	}
}

// FormatSOL renders lamports as SOL
func FormatSOL(lamports uint64) string {
	return decimal.NewFromInt(int64(lamports)).Shift(-solDecimals).String() + " SOL"
}

// OnSettlement broadcasts s and DMs the player when their wallet is linked
func (s *NotificationService) OnSettlement(ctx context.Context, st *storage.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.channelID != "" {
		if err := s.send(s.getChannelRecipient(), channelMessage(st)); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", s.channelID, err))
		} else {
			logger.Debug(st.Player.String(), "broadcast_settlement", fmt.Sprintf("bet=%s channel=%s", st.BetAddress, s.channelID))
		}
	}

	if s.chats != nil {
		chatID, err := s.chats.TelegramID(ctx, st.Player)
		if err != nil {
			errs = append(errs, err)
		} else if chatID != 0 {
			if err := s.send(&telebot.User{ID: chatID}, playerMessage(st)); err != nil {
				errs = append(errs, fmt.Errorf("player chat %d: %w", chatID, err))
			} else {
				logger.Debug(st.Player.String(), "settlement_notification_sent", fmt.Sprintf("bet=%s", st.BetAddress))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *NotificationService) send(to telebot.Recipient, message string) error {
	_, err := s.bot.Send(to, message)
	return err
}

func channelMessage(st *storage.Settlement) string {
	player := truncateString(st.Player.String(), 12)
	if st.Kind == storage.SettlementRefunded {
		return fmt.Sprintf("↩️ Bet refunded\n\nPlayer: %s\nStake: %s\nRoll under: %d",
			player, FormatSOL(st.Amount), st.Roll)
	}
	if st.Won {
		return fmt.Sprintf("🎲 %s rolled %d under %d and won %s\n\nStake: %s\nVerify: %s",
			player, *st.Result, st.Roll, FormatSOL(st.Payout), FormatSOL(st.Amount), st.Signature)
	}
	return fmt.Sprintf("🎲 %s rolled %d, needed under %d\n\nStake: %s\nVerify: %s",
		player, *st.Result, st.Roll, FormatSOL(st.Amount), st.Signature)
}

func playerMessage(st *storage.Settlement) string {
	bet := truncateString(st.BetAddress.String(), 12)
	switch {
	case st.Kind == storage.SettlementRefunded:
		return fmt.Sprintf("💰 Refund received: %s returned for bet %s.", FormatSOL(st.Amount), bet)
	case st.Won:
		profit := decimal.NewFromInt(int64(st.Payout)).Sub(decimal.NewFromInt(int64(st.Amount))).Shift(-solDecimals)
		return fmt.Sprintf("🏆 You won %s on bet %s\n\nResult: %d (under %d)\nProfit: %s SOL",
			FormatSOL(st.Payout), bet, *st.Result, st.Roll, profit.String())
	default:
		return fmt.Sprintf("📉 Bet %s did not win. Result: %d, needed under %d. Stake: %s.",
			bet, *st.Result, st.Roll, FormatSOL(st.Amount))
	}
}

// truncateString truncates a string to maxLen and adds ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}

// getChannelRecipient returns the appropriate recipient for the configured channel
func (s *NotificationService) getChannelRecipient() telebot.Recipient {
	if strings.HasPrefix(s.channelID, "@") {
		return chatUsername(s.channelID)
	}
	return &telebot.Chat{ID: parseChannelID(s.channelID)}
}

// chatUsername addresses a public channel by its @username
type chatUsername string

func (u chatUsername) Recipient() string { return string(u) }

// parseChannelID parses a channel ID string (supports numeric IDs)
func parseChannelID(channelID string) int64 {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
