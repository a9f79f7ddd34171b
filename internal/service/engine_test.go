package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicegame/internal/address"
	"dicegame/internal/oracle"
	"dicegame/internal/storage"
)

const (
	testRefundTimeout = 600 * time.Second
	testPlayerFunds   = 1_000_000_000
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	engine    *Engine
	clock     *fakeClock
	signer    *oracle.Signer
	authority solana.PublicKey
	player    solana.PublicKey
}

func newTestSigner(t *testing.T) *oracle.Signer {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	signer, err := oracle.NewSigner(key)
	require.NoError(t, err)
	return signer
}

// newTestEnv initializes a program whose vault holds reserve lamports
func newTestEnv(t *testing.T, reserve uint64, edgeBps uint16, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	env := &testEnv{
		engine:    NewEngine(store, append([]Option{WithClock(clock.Now)}, opts...)...),
		clock:     clock,
		signer:    newTestSigner(t),
		authority: solana.NewWallet().PublicKey(),
		player:    solana.NewWallet().PublicKey(),
	}

	_, err = env.engine.CreateWallet(ctx, env.authority, reserve+storage.MinimumBalance(storage.ConfigDataLength))
	require.NoError(t, err)
	_, err = env.engine.CreateWallet(ctx, env.player, testPlayerFunds)
	require.NoError(t, err)

	_, err = env.engine.Initialize(ctx, env.authority, reserve, InitParams{
		OraclePublicKey: env.signer.PublicKey(),
		HouseEdgeBps:    edgeBps,
		MinBet:          1,
		MaxBet:          1_000_000_000,
		RefundTimeout:   testRefundTimeout,
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) balance(t *testing.T, owner solana.PublicKey) uint64 {
	t.Helper()
	w, err := env.engine.Wallet(context.Background(), owner)
	require.NoError(t, err)
	return w.Lamports
}

func (env *testEnv) vault(t *testing.T) *VaultState {
	t.Helper()
	v, err := env.engine.Vault(context.Background())
	require.NoError(t, err)
	return v
}

// signedSeed finds a seed whose oracle signature gives the wanted outcome
func (env *testEnv) signedSeed(t *testing.T, roll uint8, amount uint64, wantWin bool) (uint64, solana.Signature) {
	t.Helper()
	for seed := uint64(0); seed < 200; seed++ {
		betAddr, err := env.engine.BetAddress(env.player, seed)
		require.NoError(t, err)
		sig, err := env.signer.Sign(oracle.Message(env.player, seed, roll, amount, betAddr))
		require.NoError(t, err)
		if Wins(Roll(sig[:]), roll) == wantWin {
			return seed, sig
		}
	}
	t.Fatal("no seed produced the wanted outcome")
	return 0, solana.Signature{}
}

var betDeposit = storage.MinimumBalance(storage.BetDataLength)

func TestInitialize(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	cfg, err := env.engine.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.authority, cfg.Authority)
	assert.Equal(t, env.signer.PublicKey(), cfg.OraclePublicKey)
	assert.Equal(t, uint16(150), cfg.HouseEdgeBps)
	assert.Equal(t, int64(600), cfg.RefundTimeout)

	configAddr, configBump, err := address.Config()
	require.NoError(t, err)
	_, vaultBump, err := address.Vault(configAddr)
	require.NoError(t, err)
	assert.Equal(t, configBump, cfg.Bump)
	assert.Equal(t, vaultBump, cfg.VaultBump)

	v := env.vault(t)
	assert.Equal(t, uint64(1_000_000), v.Lamports)
	assert.Zero(t, v.OpenLiability)
	assert.Zero(t, env.balance(t, env.authority))

	_, err = env.engine.Initialize(ctx, env.authority, 0, InitParams{
		OraclePublicKey: env.signer.PublicKey(),
		MinBet:          1,
		MaxBet:          10,
		RefundTimeout:   time.Minute,
	})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeValidation(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	engine := NewEngine(store)
	oracleKey := solana.NewWallet().PublicKey()

	tests := []struct {
		name   string
		params InitParams
	}{
		{"missing oracle key", InitParams{MinBet: 1, MaxBet: 10, RefundTimeout: time.Minute}},
		{"edge at 100%", InitParams{OraclePublicKey: oracleKey, HouseEdgeBps: 10000, MinBet: 1, MaxBet: 10, RefundTimeout: time.Minute}},
		{"zero min bet", InitParams{OraclePublicKey: oracleKey, MaxBet: 10, RefundTimeout: time.Minute}},
		{"min above max", InitParams{OraclePublicKey: oracleKey, MinBet: 11, MaxBet: 10, RefundTimeout: time.Minute}},
		{"no timeout", InitParams{OraclePublicKey: oracleKey, MinBet: 1, MaxBet: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Initialize(context.Background(), solana.NewWallet().PublicKey(), 0, tt.params)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err = engine.Config(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPlaceBetNotInitialized(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = NewEngine(store).PlaceBet(context.Background(), solana.NewWallet().PublicKey(), 1, 50, 1000)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRoundTripWin(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 0)
	ctx := context.Background()

	seed, sig := env.signedSeed(t, 50, 1000, true)
	bet, err := env.engine.PlaceBet(ctx, env.player, seed, 50, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), bet.Reserve)
	assert.Equal(t, betDeposit, bet.Deposit)

	assert.Equal(t, uint64(testPlayerFunds-1000)-betDeposit, env.balance(t, env.player))
	v := env.vault(t)
	assert.Equal(t, uint64(1_001_000), v.Lamports)
	assert.Equal(t, uint64(2000), v.OpenLiability)

	settlement, err := env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)
	assert.True(t, settlement.Won)
	assert.Equal(t, uint64(2000), settlement.Payout)
	assert.Equal(t, storage.SettlementResolved, settlement.Kind)
	require.NotNil(t, settlement.Result)
	assert.Less(t, *settlement.Result, uint8(50))
	assert.Equal(t, sig, *settlement.Signature)

	// Stake back, winnings on top and the record deposit reclaimed
	assert.Equal(t, uint64(testPlayerFunds+1000), env.balance(t, env.player))
	v = env.vault(t)
	assert.Equal(t, uint64(999_000), v.Lamports)
	assert.Zero(t, v.OpenLiability)

	_, err = env.engine.Bet(ctx, bet.Address)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestRoundTripLoss(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 0)
	ctx := context.Background()

	seed, sig := env.signedSeed(t, 50, 1000, false)
	bet, err := env.engine.PlaceBet(ctx, env.player, seed, 50, 1000)
	require.NoError(t, err)

	settlement, err := env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)
	assert.False(t, settlement.Won)
	assert.Zero(t, settlement.Payout)
	assert.GreaterOrEqual(t, *settlement.Result, uint8(50))

	assert.Equal(t, uint64(testPlayerFunds-1000), env.balance(t, env.player))
	assert.Equal(t, uint64(1_001_000), env.vault(t).Lamports)
}

func TestPlaceBetValidation(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	tests := []struct {
		name    string
		roll    uint8
		amount  uint64
		wantErr error
	}{
		{"roll zero", 0, 1000, ErrInvalidRoll},
		{"roll 100", 100, 1000, ErrInvalidRoll},
		{"amount below min", 50, 0, ErrInvalidAmount},
		{"amount above max", 50, 1_000_000_001, ErrInvalidAmount},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.PlaceBet(ctx, env.player, uint64(i), tt.roll, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)

			// Nothing moved and no record was written
			assert.Equal(t, uint64(testPlayerFunds), env.balance(t, env.player))
			assert.Equal(t, uint64(1_000_000), env.vault(t).Lamports)
			betAddr, err := env.engine.BetAddress(env.player, uint64(i))
			require.NoError(t, err)
			_, err = env.engine.Bet(ctx, betAddr)
			assert.ErrorIs(t, err, ErrBetNotFound)
		})
	}
}

func TestPlaceBetDuplicateSeed(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	_, err := env.engine.PlaceBet(ctx, env.player, 7, 50, 1000)
	require.NoError(t, err)

	_, err = env.engine.PlaceBet(ctx, env.player, 7, 20, 500)
	assert.ErrorIs(t, err, ErrDuplicateOpenBet)
}

func TestPlaceBetFunds(t *testing.T) {
	env := newTestEnv(t, 1_000_000_000, 150)
	ctx := context.Background()

	_, err := env.engine.PlaceBet(ctx, solana.NewWallet().PublicKey(), 1, 50, 1000)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	// The deposit comes on top of the stake
	_, err = env.engine.PlaceBet(ctx, env.player, 1, 99, testPlayerFunds-betDeposit+1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = env.engine.PlaceBet(ctx, env.player, 1, 99, testPlayerFunds-betDeposit)
	assert.NoError(t, err)
	assert.Zero(t, env.balance(t, env.player))
}

func TestPlaceBetSolvency(t *testing.T) {
	env := newTestEnv(t, 500, 0)
	ctx := context.Background()

	// reserve 2000 > vault 500 + stake 1000
	_, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	assert.ErrorIs(t, err, ErrInsufficientVaultReserve)
	assert.Equal(t, uint64(testPlayerFunds), env.balance(t, env.player))

	// Smaller bet: 500 + 500 covers a 1000 reserve exactly
	_, err = env.engine.PlaceBet(ctx, env.player, 2, 50, 500)
	require.NoError(t, err)

	// Existing liability is counted
	_, err = env.engine.PlaceBet(ctx, env.player, 3, 50, 500)
	assert.ErrorIs(t, err, ErrInsufficientVaultReserve)

	v := env.vault(t)
	assert.Equal(t, uint64(1000), v.Lamports)
	assert.Equal(t, uint64(1000), v.OpenLiability)
}

func TestVaultNeverBelowLiability(t *testing.T) {
	env := newTestEnv(t, 50_000, 150)
	ctx := context.Background()

	rolls := []uint8{1, 5, 25, 50, 75, 95, 99}
	var open []*OpenBet
	for i := 0; i < 40; i++ {
		roll := rolls[i%len(rolls)]
		bet, err := env.engine.PlaceBet(ctx, env.player, uint64(i), roll, uint64(100+i*37))
		if errors.Is(err, ErrInsufficientVaultReserve) {
			continue
		}
		require.NoError(t, err)
		open = append(open, bet)

		v := env.vault(t)
		require.GreaterOrEqual(t, v.Lamports, v.OpenLiability)
	}
	require.NotEmpty(t, open)

	for i, bet := range open {
		if i%3 == 0 {
			env.clock.Advance(testRefundTimeout)
			_, err := env.engine.RefundBet(ctx, env.player, bet.Address)
			require.NoError(t, err)
		} else {
			sig, err := env.signer.SignBet(bet.Address, &bet.Bet)
			require.NoError(t, err)
			_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
			require.NoError(t, err, "settling an accepted bet must never underfund the vault")
		}

		v := env.vault(t)
		require.GreaterOrEqual(t, v.Lamports, v.OpenLiability)
	}
	assert.Zero(t, env.vault(t).OpenLiability)
}

func TestExactlyOnceSettlement(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)
	sig, err := env.signer.SignBet(bet.Address, &bet.Bet)
	require.NoError(t, err)

	_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)
	balanceAfter := env.balance(t, env.player)
	vaultAfter := env.vault(t).Lamports

	_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.ErrorIs(t, err, ErrBetNotFound)

	env.clock.Advance(testRefundTimeout)
	_, err = env.engine.RefundBet(ctx, env.player, bet.Address)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	assert.Equal(t, balanceAfter, env.balance(t, env.player))
	assert.Equal(t, vaultAfter, env.vault(t).Lamports)

	settlements, err := env.engine.Settlements(ctx, bet.Address)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)

	// An address that never held a bet is not "already resolved"
	_, err = env.engine.ResolveBet(ctx, solana.NewWallet().PublicKey(), sig[:])
	assert.ErrorIs(t, err, ErrBetNotFound)
	assert.False(t, errors.Is(err, ErrAlreadyResolved))
}

func TestConcurrentResolveSettlesOnce(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)
	sig, err := env.signer.SignBet(bet.Address, &bet.Bet)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		resolved  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.ResolveBet(ctx, bet.Address, sig[:])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyResolved):
				resolved++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, resolved)
}

func TestSignatureBinding(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	betA, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)
	betB, err := env.engine.PlaceBet(ctx, env.player, 2, 50, 1000)
	require.NoError(t, err)

	sigA, err := env.signer.SignBet(betA.Address, &betA.Bet)
	require.NoError(t, err)

	_, err = env.engine.ResolveBet(ctx, betB.Address, sigA[:])
	assert.ErrorIs(t, err, ErrInvalidSignature)

	impostor := newTestSigner(t)
	sigB, err := impostor.SignBet(betB.Address, &betB.Bet)
	require.NoError(t, err)
	_, err = env.engine.ResolveBet(ctx, betB.Address, sigB[:])
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = env.engine.ResolveBet(ctx, betB.Address, sigA[:32])
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Rejected attempts leave the bet open
	open, err := env.engine.Bet(ctx, betB.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), open.Seed)

	_, err = env.engine.ResolveBet(ctx, betA.Address, sigA[:])
	assert.NoError(t, err)
}

func TestSettledSeedCannotBeReplaced(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 0)
	ctx := context.Background()

	seed, sig := env.signedSeed(t, 50, 1000, true)
	bet, err := env.engine.PlaceBet(ctx, env.player, seed, 50, 1000)
	require.NoError(t, err)
	settlement, err := env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)
	require.True(t, settlement.Won)

	before := env.balance(t, env.player)

	// Same seed, roll and amount would make the old signature valid again
	_, err = env.engine.PlaceBet(ctx, env.player, seed, 50, 1000)
	assert.ErrorIs(t, err, ErrSeedAlreadyUsed)

	_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, before, env.balance(t, env.player))

	list, err := env.engine.Settlements(ctx, bet.Address)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRefundedSeedCannotBeReplaced(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 3, 50, 1000)
	require.NoError(t, err)
	env.clock.Advance(testRefundTimeout)
	_, err = env.engine.RefundBet(ctx, env.player, bet.Address)
	require.NoError(t, err)

	_, err = env.engine.PlaceBet(ctx, env.player, 3, 50, 1000)
	assert.ErrorIs(t, err, ErrSeedAlreadyUsed)

	// Other seeds are unaffected
	_, err = env.engine.PlaceBet(ctx, env.player, 4, 50, 1000)
	assert.NoError(t, err)
}

func TestRefundTimeoutBoundary(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)

	env.clock.Advance(testRefundTimeout - time.Second)
	_, err = env.engine.RefundBet(ctx, env.player, bet.Address)
	assert.ErrorIs(t, err, ErrRefundNotYetEligible)

	env.clock.Advance(time.Second)
	settlement, err := env.engine.RefundBet(ctx, env.player, bet.Address)
	require.NoError(t, err)
	assert.Equal(t, storage.SettlementRefunded, settlement.Kind)
	assert.Equal(t, uint64(1000), settlement.Payout)
	assert.Nil(t, settlement.Signature)

	assert.Equal(t, uint64(testPlayerFunds), env.balance(t, env.player))
	assert.Equal(t, uint64(1_000_000), env.vault(t).Lamports)
}

func TestRefundWrongCaller(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)
	env.clock.Advance(testRefundTimeout)

	_, err = env.engine.RefundBet(ctx, env.authority, bet.Address)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.engine.Bet(ctx, bet.Address)
	assert.NoError(t, err)
}

func TestListenersNotifiedAfterCommit(t *testing.T) {
	var got []*storage.Settlement
	failing := ListenerFunc(func(ctx context.Context, s *storage.Settlement) error {
		return errors.New("listener down")
	})
	recording := ListenerFunc(func(ctx context.Context, s *storage.Settlement) error {
		got = append(got, s)
		return nil
	})
	env := newTestEnv(t, 1_000_000, 150, WithListener(failing), WithListener(recording))
	ctx := context.Background()

	bet, err := env.engine.PlaceBet(ctx, env.player, 1, 50, 1000)
	require.NoError(t, err)
	sig, err := env.signer.SignBet(bet.Address, &bet.Bet)
	require.NoError(t, err)

	// A failing listener does not undo the settlement
	_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bet.Address, got[0].BetAddress)
	assert.NotEmpty(t, got[0].OpID)

	_, err = env.engine.Bet(ctx, bet.Address)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestLeaderboardAndLedger(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 0)
	ctx := context.Background()

	seed, sig := env.signedSeed(t, 50, 1000, true)
	bet, err := env.engine.PlaceBet(ctx, env.player, seed, 50, 1000)
	require.NoError(t, err)
	_, err = env.engine.ResolveBet(ctx, bet.Address, sig[:])
	require.NoError(t, err)

	board, err := env.engine.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, env.player, board[0].Player)
	assert.Equal(t, int64(1000), board[0].Net)

	ledger, err := env.engine.Ledger(ctx, env.player, 0)
	require.NoError(t, err)
	sources := make([]string, 0, len(ledger))
	for _, tr := range ledger {
		sources = append(sources, tr.SourceType)
	}
	// Newest first
	assert.Equal(t, []string{
		storage.SourceRecordReclaim,
		storage.SourceWinPayout,
		storage.SourceBet,
		storage.SourceRecordDeposit,
		storage.SourceWelcomeBonus,
	}, sources)
}

func TestCreateWalletAndLink(t *testing.T) {
	env := newTestEnv(t, 1_000_000, 150)
	ctx := context.Background()

	_, err := env.engine.CreateWallet(ctx, env.player, 1)
	assert.ErrorIs(t, err, ErrWalletExists)

	require.NoError(t, env.engine.LinkTelegram(ctx, env.player, 42))
	id, err := env.engine.TelegramID(ctx, env.player)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	err = env.engine.LinkTelegram(ctx, solana.NewWallet().PublicKey(), 42)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}
