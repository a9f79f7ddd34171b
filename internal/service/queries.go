package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"dicegame/internal/address"
	"dicegame/internal/logger"
	"dicegame/internal/storage"
)

// MaxListLimit caps list queries
const MaxListLimit = 200

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Config returns the configuration record
func (e *Engine) Config(ctx context.Context) (*storage.Config, error) {
	var cfg *storage.Config
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		cfg, _, err = e.loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

// Vault returns the vault balance together with the liability of open bets
func (e *Engine) Vault(ctx context.Context) (*VaultState, error) {
	var state *VaultState
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		vault, vaultAddr, err := e.vault(ctx, tx)
		if err != nil {
			return err
		}
		liability, err := tx.OpenLiability(ctx)
		if err != nil {
			return err
		}
		state = &VaultState{Address: vaultAddr, Lamports: vault.Lamports, OpenLiability: liability}
		if vault.Lamports > liability {
			state.Available = vault.Lamports - liability
		}
		return nil
	})
	return state, err
}

// BetAddress derives the record address for a player's seed
func (e *Engine) BetAddress(player solana.PublicKey, seed uint64) (solana.PublicKey, error) {
	configAddr, _, err := address.Config()
	if err != nil {
		return solana.PublicKey{}, err
	}
	betAddr, _, err := address.Bet(configAddr, player, seed)
	return betAddr, err
}

// Bet returns an open bet by address
func (e *Engine) Bet(ctx context.Context, betAddr solana.PublicKey) (*OpenBet, error) {
	var open *OpenBet
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		account, bet, err := e.openBet(ctx, tx, betAddr)
		if err != nil {
			return err
		}
		open = &OpenBet{Address: betAddr, Bet: *bet, Reserve: account.Liability, Deposit: account.Lamports}
		return nil
	})
	return open, err
}

// OpenBets lists open bets, oldest first
func (e *Engine) OpenBets(ctx context.Context, limit int) ([]*OpenBet, error) {
	var bets []*OpenBet
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		accounts, err := tx.ListAccounts(ctx, storage.AccountKindBet, clampLimit(limit))
		if err != nil {
			return err
		}
		for _, a := range accounts {
			bet, err := storage.BetFromAccount(a)
			if err != nil {
				// A corrupt record must not hide the others
				logger.Error(a.Address.String(), "bet_decode_failed", err)
				continue
			}
			bets = append(bets, &OpenBet{Address: a.Address, Bet: *bet, Reserve: a.Liability, Deposit: a.Lamports})
		}
		return nil
	})
	return bets, err
}

// Settlements returns the audit trail of a bet address
func (e *Engine) Settlements(ctx context.Context, betAddr solana.PublicKey) ([]*storage.Settlement, error) {
	var list []*storage.Settlement
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		list, err = tx.Settlements(ctx, betAddr)
		return err
	})
	return list, err
}

// Leaderboard ranks players by net winnings
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]storage.LeaderboardEntry, error) {
	var entries []storage.LeaderboardEntry
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		entries, err = tx.Leaderboard(ctx, clampLimit(limit))
		return err
	})
	return entries, err
}

// CreateWallet opens a player wallet credited with a welcome bonus
func (e *Engine) CreateWallet(ctx context.Context, owner solana.PublicKey, bonus uint64) (*storage.Account, error) {
	var wallet *storage.Account
	err := e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		wallet = &storage.Account{Address: owner, Kind: storage.AccountKindWallet}
		err := tx.CreateAccount(ctx, wallet)
		if errors.Is(err, storage.ErrAccountExists) {
			return fmt.Errorf("%w: %s", ErrWalletExists, owner)
		}
		if err != nil {
			return err
		}
		if bonus > 0 {
			if err := tx.Credit(ctx, owner, bonus, storage.SourceWelcomeBonus, "Welcome bonus"); err != nil {
				return err
			}
			wallet.Lamports = bonus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(owner.String(), "wallet_created", fmt.Sprintf("bonus=%d", bonus))
	return wallet, nil
}

// Wallet returns a player wallet
func (e *Engine) Wallet(ctx context.Context, owner solana.PublicKey) (*storage.Account, error) {
	var wallet *storage.Account
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		wallet, err = e.wallet(ctx, tx, owner)
		return err
	})
	return wallet, err
}

// Ledger returns the latest balance movements of any account
func (e *Engine) Ledger(ctx context.Context, addr solana.PublicKey, limit int) ([]storage.Transaction, error) {
	var txs []storage.Transaction
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		txs, err = tx.Ledger(ctx, addr, clampLimit(limit))
		return err
	})
	return txs, err
}

// LinkTelegram binds an existing wallet to a Telegram chat
func (e *Engine) LinkTelegram(ctx context.Context, owner solana.PublicKey, telegramID int64) error {
	return e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		if _, err := e.wallet(ctx, tx, owner); err != nil {
			return err
		}
		return tx.LinkTelegram(ctx, owner, telegramID)
	})
}

// TelegramID returns the chat bound to a wallet, or 0
func (e *Engine) TelegramID(ctx context.Context, owner solana.PublicKey) (int64, error) {
	var id int64
	err := e.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		id, err = tx.TelegramID(ctx, owner)
		return err
	})
	return id, err
}
