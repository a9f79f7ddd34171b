package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/telebot.v3"

	"dicegame/internal/logger"
	"dicegame/internal/service"
	"dicegame/internal/storage"
)

const commandTimeout = 5 * time.Second

const helpText = "🎲 *Dice*\n\n" +
	"/vault - House funds and open liability\n" +
	"/bet <address> - Status of a bet\n" +
	"/link <wallet> - Get a message here when your bets settle\n" +
	"/top - Leaderboard\n" +
	"/help - Show this help message\n\n" +
	"Bets are placed through the API with a signed request."

// Bot answers read-only commands about the game
type Bot struct {
	bot    *telebot.Bot
	engine *service.Engine
}

// New creates the Telegram bot and registers its commands
func New(token string, engine *service.Engine) (*Bot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}

	b, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &Bot{bot: b, engine: engine}
	bot.register()
	return bot, nil
}

// Telebot exposes the client so notifications can share it
func (b *Bot) Telebot() *telebot.Bot {
	return b.bot
}

// Start polls for updates until Stop is called
func (b *Bot) Start() {
	logger.Info("bot", "polling_started", "@"+b.bot.Me.Username)
	b.bot.Start()
}

// Stop ends polling
func (b *Bot) Stop() {
	b.bot.Stop()
}

func (b *Bot) register() {
	b.bot.Handle("/start", b.handleHelp)
	b.bot.Handle("/help", b.handleHelp)
	b.bot.Handle("/vault", b.handleVault)
	b.bot.Handle("/bet", b.handleBet)
	b.bot.Handle("/link", b.handleLink)
	b.bot.Handle("/top", b.handleTop)
}

func (b *Bot) handleHelp(c telebot.Context) error {
	logger.Debug(senderID(c), "command_help", "")
	return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
}

func (b *Bot) handleVault(c telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	vault, err := b.engine.Vault(ctx)
	if errors.Is(err, service.ErrNotInitialized) {
		return c.Send("The game has not been initialized yet.")
	}
	if err != nil {
		logger.Error(senderID(c), "command_vault", err)
		return c.Send("Error retrieving vault. Please try again.")
	}
	return c.Send(formatVault(vault))
}

func (b *Bot) handleBet(c telebot.Context) error {
	addr, err := parseAddressArg(c.Args())
	if err != nil {
		return c.Send("Usage: /bet <bet address>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	bet, err := b.engine.Bet(ctx, addr)
	switch {
	case err == nil:
		return c.Send(formatOpenBet(bet))
	case errors.Is(err, service.ErrAlreadyResolved):
		list, err := b.engine.Settlements(ctx, addr)
		if err != nil || len(list) == 0 {
			logger.Error(senderID(c), "command_bet", err)
			return c.Send("Error retrieving settlement. Please try again.")
		}
		return c.Send(formatSettlement(list[len(list)-1]))
	case errors.Is(err, service.ErrBetNotFound):
		return c.Send("No bet at that address.")
	default:
		logger.Error(senderID(c), "command_bet", err)
		return c.Send("Error retrieving bet. Please try again.")
	}
}

func (b *Bot) handleLink(c telebot.Context) error {
	owner, err := parseAddressArg(c.Args())
	if err != nil {
		return c.Send("Usage: /link <wallet address>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.engine.LinkTelegram(ctx, owner, c.Chat().ID); err != nil {
		if errors.Is(err, service.ErrWalletNotFound) {
			return c.Send("Wallet not found. Create it through the API first.")
		}
		logger.Error(senderID(c), "command_link", err)
		return c.Send("Error linking wallet. Please try again.")
	}

	logger.Info(senderID(c), "wallet_linked", owner.String())
	return c.Send("Linked. You will be notified here when bets of " + shortAddress(owner) + " settle.")
}

func (b *Bot) handleTop(c telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	entries, err := b.engine.Leaderboard(ctx, 10)
	if err != nil {
		logger.Error(senderID(c), "command_top", err)
		return c.Send("Error retrieving leaderboard. Please try again.")
	}
	return c.Send(formatLeaderboard(entries))
}

func senderID(c telebot.Context) string {
	if c.Sender() == nil {
		return "telegram"
	}
	return fmt.Sprintf("tg:%d", c.Sender().ID)
}

func parseAddressArg(args []string) (solana.PublicKey, error) {
	if len(args) != 1 {
		return solana.PublicKey{}, errors.New("expected one argument")
	}
	return solana.PublicKeyFromBase58(strings.TrimSpace(args[0]))
}

// shortAddress shows the first and last four characters of an address
func shortAddress(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

func formatVault(v *service.VaultState) string {
	return fmt.Sprintf("🏦 Vault %s\n\nBalance: %s\nReserved for open bets: %s\nAvailable: %s",
		shortAddress(v.Address), service.FormatSOL(v.Lamports), service.FormatSOL(v.OpenLiability), service.FormatSOL(v.Available))
}

func formatOpenBet(b *service.OpenBet) string {
	return fmt.Sprintf("⏳ Bet %s is open\n\nPlayer: %s\nStake: %s\nWins if the roll is below %d\nPlaced: %s",
		shortAddress(b.Address), shortAddress(b.Player), service.FormatSOL(b.Amount), b.Roll,
		time.Unix(b.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05 UTC"))
}

func formatSettlement(s *storage.Settlement) string {
	switch {
	case s.Kind == storage.SettlementRefunded:
		return fmt.Sprintf("↩️ Bet %s was refunded\n\nStake returned: %s", shortAddress(s.BetAddress), service.FormatSOL(s.Amount))
	case s.Won:
		return fmt.Sprintf("🎉 Bet %s won\n\nRolled %d under %d\nPaid out: %s",
			shortAddress(s.BetAddress), derefResult(s.Result), s.Roll, service.FormatSOL(s.Payout))
	default:
		return fmt.Sprintf("❌ Bet %s lost\n\nRolled %d, needed below %d\nStake: %s",
			shortAddress(s.BetAddress), derefResult(s.Result), s.Roll, service.FormatSOL(s.Amount))
	}
}

func derefResult(r *uint8) uint8 {
	if r == nil {
		return 0
	}
	return *r
}

func formatLeaderboard(entries []storage.LeaderboardEntry) string {
	if len(entries) == 0 {
		return "No bets have been settled yet."
	}

	var sb strings.Builder
	sb.WriteString("🏆 Leaderboard\n")
	for i, e := range entries {
		sign := "+"
		net := e.Net
		if net < 0 {
			sign = "-"
			net = -net
		}
		fmt.Fprintf(&sb, "\n%d. %s  %s%s  (%d/%d won)",
			i+1, shortAddress(e.Player), sign, service.FormatSOL(uint64(net)), e.Wins, e.Bets)
	}
	return sb.String()
}
