package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"

	"dicegame/internal/address"
	"dicegame/internal/logger"
	"dicegame/internal/oracle"
	"dicegame/internal/storage"
)

// InitParams are the immutable settings written by Initialize
type InitParams struct {
	OraclePublicKey solana.PublicKey
	HouseEdgeBps    uint16
	MinBet          uint64
	MaxBet          uint64
	RefundTimeout   time.Duration
}

// Validate checks the parameters before anything is written
func (p InitParams) Validate() error {
	if p.OraclePublicKey.IsZero() {
		return fmt.Errorf("%w: oracle public key is required", ErrInvalidConfig)
	}
	if p.HouseEdgeBps >= bpsDenominator {
		return fmt.Errorf("%w: house edge must be below %d bps", ErrInvalidConfig, bpsDenominator)
	}
	if p.MinBet == 0 || p.MinBet > p.MaxBet {
		return fmt.Errorf("%w: need 0 < min bet <= max bet", ErrInvalidConfig)
	}
	if p.MaxBet > math.MaxInt64 {
		return fmt.Errorf("%w: max bet too large", ErrInvalidConfig)
	}
	if p.RefundTimeout < time.Second {
		return fmt.Errorf("%w: refund timeout must be at least one second", ErrInvalidConfig)
	}
	return nil
}

// OpenBet is a stored bet record together with its address and the
// liability the vault holds for it
type OpenBet struct {
	Address solana.PublicKey `json:"address"`
	storage.Bet
	Reserve uint64 `json:"reserve"`
	Deposit uint64 `json:"deposit"`
}

// VaultState summarizes the house funds
type VaultState struct {
	Address       solana.PublicKey `json:"address"`
	Lamports      uint64           `json:"lamports"`
	OpenLiability uint64           `json:"open_liability"`
	Available     uint64           `json:"available"` // lamports not reserved by open bets
}

// Engine runs the bet lifecycle. Every operation is a single storage
// transaction; listeners are told about settlements after commit.
type Engine struct {
	store     *storage.Store
	now       func() time.Time
	listeners []SettlementListener
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithListener registers a settlement listener
func WithListener(l SettlementListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// NewEngine creates the settlement engine
func NewEngine(store *storage.Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddListener registers a listener after construction
func (e *Engine) AddListener(l SettlementListener) {
	e.listeners = append(e.listeners, l)
}

// Initialize writes the configuration record, creates the vault and funds it
// with amount lamports from the authority wallet.
func (e *Engine) Initialize(ctx context.Context, authority solana.PublicKey, amount uint64, params InitParams) (*storage.Config, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	configAddr, configBump, err := address.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to derive config address: %w", err)
	}
	vaultAddr, vaultBump, err := address.Vault(configAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault address: %w", err)
	}

	cfg := &storage.Config{
		Authority:       authority,
		OraclePublicKey: params.OraclePublicKey,
		HouseEdgeBps:    params.HouseEdgeBps,
		MinBet:          params.MinBet,
		MaxBet:          params.MaxBet,
		RefundTimeout:   int64(params.RefundTimeout / time.Second),
		VaultBump:       vaultBump,
		Bump:            configBump,
	}
	data, err := storage.EncodeConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	deposit := storage.MinimumBalance(storage.ConfigDataLength)

	err = e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		if _, err := tx.GetAccount(ctx, configAddr); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrAccountNotFound) {
			return err
		}

		wallet, err := e.wallet(ctx, tx, authority)
		if err != nil {
			return err
		}
		if amount > math.MaxUint64-deposit || wallet.Lamports < amount+deposit {
			return fmt.Errorf("%w: authority has %d, needs %d", ErrInsufficientFunds, wallet.Lamports, amount+deposit)
		}

		if err := tx.CreateAccount(ctx, &storage.Account{Address: configAddr, Kind: storage.AccountKindConfig, Data: data}); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, authority, configAddr, deposit, storage.SourceRecordDeposit, "config record deposit"); err != nil {
			return err
		}
		if err := tx.CreateAccount(ctx, &storage.Account{Address: vaultAddr, Kind: storage.AccountKindVault}); err != nil {
			return err
		}
		if amount > 0 {
			return tx.Transfer(ctx, authority, vaultAddr, amount, storage.SourceReserve, "initial vault reserve")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(authority.String(), "initialized", fmt.Sprintf("vault=%s reserve=%d edge_bps=%d min=%d max=%d timeout=%ds",
		vaultAddr, amount, cfg.HouseEdgeBps, cfg.MinBet, cfg.MaxBet, cfg.RefundTimeout))
	return cfg, nil
}

// PlaceBet escrows amount lamports from player against roll. The bet record
// is created at the address derived from (player, seed).
func (e *Engine) PlaceBet(ctx context.Context, player solana.PublicKey, seed uint64, roll uint8, amount uint64) (*OpenBet, error) {
	var placed *OpenBet
	err := e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		cfg, configAddr, err := e.loadConfig(ctx, tx)
		if err != nil {
			return err
		}

		if roll < MinRoll || roll > MaxRoll {
			return fmt.Errorf("%w: got %d", ErrInvalidRoll, roll)
		}
		if amount < cfg.MinBet || amount > cfg.MaxBet {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidAmount, amount, cfg.MinBet, cfg.MaxBet)
		}

		betAddr, bump, err := address.Bet(configAddr, player, seed)
		if err != nil {
			return fmt.Errorf("failed to derive bet address: %w", err)
		}
		if _, err := tx.GetAccount(ctx, betAddr); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateOpenBet, betAddr)
		} else if !errors.Is(err, storage.ErrAccountNotFound) {
			return err
		}
		// A settled seed would reproduce the same oracle message
		settled, err := tx.HasSettlement(ctx, betAddr)
		if err != nil {
			return err
		}
		if settled {
			return fmt.Errorf("%w: %s", ErrSeedAlreadyUsed, betAddr)
		}

		wallet, err := e.wallet(ctx, tx, player)
		if err != nil {
			return err
		}
		deposit := storage.MinimumBalance(storage.BetDataLength)
		if wallet.Lamports < deposit || wallet.Lamports-deposit < amount {
			return fmt.Errorf("%w: wallet has %d, needs %d plus %d deposit", ErrInsufficientFunds, wallet.Lamports, amount, deposit)
		}

		reserve, err := Reserve(amount, roll, cfg.HouseEdgeBps)
		if err != nil {
			return err
		}
		if err := e.checkSolvency(ctx, tx, cfg, amount, reserve); err != nil {
			return err
		}

		now := tx.Now()
		bet := storage.Bet{
			Player:    player,
			Seed:      seed,
			Roll:      roll,
			Amount:    amount,
			CreatedAt: now.Unix(),
			Bump:      bump,
		}
		data, err := storage.EncodeBet(&bet)
		if err != nil {
			return fmt.Errorf("failed to encode bet: %w", err)
		}

		if err := tx.CreateAccount(ctx, &storage.Account{
			Address:   betAddr,
			Kind:      storage.AccountKindBet,
			Data:      data,
			Liability: reserve,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, player, betAddr, deposit, storage.SourceRecordDeposit, "bet record deposit"); err != nil {
			return err
		}
		vaultAddr, _, err := address.Vault(configAddr)
		if err != nil {
			return fmt.Errorf("failed to derive vault address: %w", err)
		}
		if err := tx.Transfer(ctx, player, vaultAddr, amount, storage.SourceBet, fmt.Sprintf("bet %s roll under %d", betAddr, roll)); err != nil {
			return err
		}

		placed = &OpenBet{Address: betAddr, Bet: bet, Reserve: reserve, Deposit: deposit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(player.String(), "bet_placed", fmt.Sprintf("bet=%s seed=%d roll=%d amount=%d reserve=%d",
		placed.Address, seed, roll, amount, placed.Reserve))
	return placed, nil
}

// checkSolvency requires the vault, after receiving the stake, to cover every
// open reserve plus the new one.
func (e *Engine) checkSolvency(ctx context.Context, tx *storage.Tx, cfg *storage.Config, amount, reserve uint64) error {
	vault, _, err := e.vault(ctx, tx)
	if err != nil {
		return err
	}
	liability, err := tx.OpenLiability(ctx)
	if err != nil {
		return err
	}

	if vault.Lamports > math.MaxUint64-amount || liability > math.MaxUint64-reserve {
		return ErrArithmeticOverflow
	}
	if vault.Lamports+amount < liability+reserve {
		return fmt.Errorf("%w: vault %d + stake %d < liability %d + reserve %d",
			ErrInsufficientVaultReserve, vault.Lamports, amount, liability, reserve)
	}
	return nil
}

// ResolveBet settles an open bet with the oracle's signature over its
// canonical message. The result is derived from the signature; a win is paid
// from the vault, a loss leaves the stake there. The bet record is closed and
// its deposit returned to the player.
func (e *Engine) ResolveBet(ctx context.Context, betAddr solana.PublicKey, signature []byte) (*storage.Settlement, error) {
	var settlement *storage.Settlement
	err := e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		cfg, _, err := e.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		account, bet, err := e.openBet(ctx, tx, betAddr)
		if err != nil {
			return err
		}

		if !oracle.Verify(cfg.OraclePublicKey, oracle.BetMessage(betAddr, bet), signature) {
			return ErrInvalidSignature
		}

		result := Roll(signature)
		won := Wins(result, bet.Roll)

		var payout uint64
		if won {
			payout, err = Payout(bet.Amount, bet.Roll, cfg.HouseEdgeBps)
			if err != nil {
				return err
			}
			vault, vaultAddr, err := e.vault(ctx, tx)
			if err != nil {
				return err
			}
			if vault.Lamports < payout {
				return fmt.Errorf("%w: vault %d, payout %d", ErrVaultUnderfunded, vault.Lamports, payout)
			}
			if err := tx.Transfer(ctx, vaultAddr, bet.Player, payout, storage.SourceWinPayout, fmt.Sprintf("win on bet %s", betAddr)); err != nil {
				return err
			}
		}

		if _, err := tx.CloseAccount(ctx, account.Address, bet.Player, fmt.Sprintf("bet %s closed", betAddr)); err != nil {
			return err
		}

		sig := solana.SignatureFromBytes(signature)
		settlement = &storage.Settlement{
			BetAddress: betAddr,
			Player:     bet.Player,
			Seed:       bet.Seed,
			Roll:       bet.Roll,
			Amount:     bet.Amount,
			Kind:       storage.SettlementResolved,
			Signature:  &sig,
			Result:     &result,
			Won:        won,
			Payout:     payout,
		}
		return tx.InsertSettlement(ctx, settlement)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(settlement.Player.String(), "bet_resolved", fmt.Sprintf("bet=%s roll=%d result=%d won=%t payout=%d",
		betAddr, settlement.Roll, *settlement.Result, settlement.Won, settlement.Payout))
	e.notify(ctx, settlement)
	return settlement, nil
}

// RefundBet returns the stake of a bet that the oracle never settled. Only
// the player may call it, and only once the refund timeout has elapsed.
func (e *Engine) RefundBet(ctx context.Context, caller, betAddr solana.PublicKey) (*storage.Settlement, error) {
	var settlement *storage.Settlement
	err := e.store.Update(ctx, e.now(), func(tx *storage.Tx) error {
		cfg, _, err := e.loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		account, bet, err := e.openBet(ctx, tx, betAddr)
		if err != nil {
			return err
		}

		if !caller.Equals(bet.Player) {
			return ErrUnauthorized
		}
		if elapsed := tx.Now().Unix() - bet.CreatedAt; elapsed < cfg.RefundTimeout {
			return fmt.Errorf("%w: %ds of %ds elapsed", ErrRefundNotYetEligible, elapsed, cfg.RefundTimeout)
		}

		vault, vaultAddr, err := e.vault(ctx, tx)
		if err != nil {
			return err
		}
		if vault.Lamports < bet.Amount {
			return fmt.Errorf("%w: vault %d, refund %d", ErrVaultUnderfunded, vault.Lamports, bet.Amount)
		}
		if err := tx.Transfer(ctx, vaultAddr, bet.Player, bet.Amount, storage.SourceRefund, fmt.Sprintf("refund of bet %s", betAddr)); err != nil {
			return err
		}
		if _, err := tx.CloseAccount(ctx, account.Address, bet.Player, fmt.Sprintf("bet %s closed", betAddr)); err != nil {
			return err
		}

		settlement = &storage.Settlement{
			BetAddress: betAddr,
			Player:     bet.Player,
			Seed:       bet.Seed,
			Roll:       bet.Roll,
			Amount:     bet.Amount,
			Kind:       storage.SettlementRefunded,
			Payout:     bet.Amount,
		}
		return tx.InsertSettlement(ctx, settlement)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(caller.String(), "bet_refunded", fmt.Sprintf("bet=%s amount=%d", betAddr, settlement.Amount))
	e.notify(ctx, settlement)
	return settlement, nil
}

func (e *Engine) notify(ctx context.Context, s *storage.Settlement) {
	for _, l := range e.listeners {
		if err := l.OnSettlement(ctx, s); err != nil {
			logger.Error(s.Player.String(), "settlement_listener_failed", err)
		}
	}
}

// loadConfig reads the configuration record inside tx
func (e *Engine) loadConfig(ctx context.Context, tx *storage.Tx) (*storage.Config, solana.PublicKey, error) {
	configAddr, _, err := address.Config()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive config address: %w", err)
	}
	account, err := tx.GetAccount(ctx, configAddr)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, configAddr, ErrNotInitialized
	}
	if err != nil {
		return nil, configAddr, err
	}
	cfg, err := storage.ConfigFromAccount(account)
	if err != nil {
		return nil, configAddr, err
	}
	return cfg, configAddr, nil
}

func (e *Engine) vault(ctx context.Context, tx *storage.Tx) (*storage.Account, solana.PublicKey, error) {
	configAddr, _, err := address.Config()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive config address: %w", err)
	}
	vaultAddr, _, err := address.Vault(configAddr)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	account, err := tx.GetAccount(ctx, vaultAddr)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, vaultAddr, ErrNotInitialized
	}
	if err != nil {
		return nil, vaultAddr, err
	}
	return account, vaultAddr, nil
}

func (e *Engine) wallet(ctx context.Context, tx *storage.Tx, owner solana.PublicKey) (*storage.Account, error) {
	account, err := tx.GetAccount(ctx, owner)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, owner)
	}
	if err != nil {
		return nil, err
	}
	if account.Kind != storage.AccountKindWallet {
		return nil, fmt.Errorf("%w: %s is a %s account", ErrWalletNotFound, owner, account.Kind)
	}
	return account, nil
}

// openBet loads the record at betAddr. A missing record that has a settlement
// on file reports ErrAlreadyResolved.
func (e *Engine) openBet(ctx context.Context, tx *storage.Tx, betAddr solana.PublicKey) (*storage.Account, *storage.Bet, error) {
	account, err := tx.GetAccount(ctx, betAddr)
	if errors.Is(err, storage.ErrAccountNotFound) {
		settled, err := tx.HasSettlement(ctx, betAddr)
		if err != nil {
			return nil, nil, err
		}
		if settled {
			return nil, nil, ErrAlreadyResolved
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrBetNotFound, betAddr)
	}
	if err != nil {
		return nil, nil, err
	}

	bet, err := storage.BetFromAccount(account)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBetNotFound, err)
	}
	return account, bet, nil
}
