package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Seeds are full uint64 values; SQLite integers are signed, so they are stored
// bit-cast to int64.
func seedToDB(seed uint64) int64   { return int64(seed) }
func seedFromDB(seed int64) uint64 { return uint64(seed) }

// InsertSettlement appends an audit entry for a closed bet
func (t *Tx) InsertSettlement(ctx context.Context, s *Settlement) error {
	amount, err := toInt64(s.Amount)
	if err != nil {
		return err
	}
	payout, err := toInt64(s.Payout)
	if err != nil {
		return err
	}

	var sig, result interface{}
	if s.Signature != nil {
		sig = s.Signature.String()
	}
	if s.Result != nil {
		result = int64(*s.Result)
	}
	if s.SettledAt.IsZero() {
		s.SettledAt = t.now
	}
	s.OpID = t.opID

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO settlements (op_id, bet_address, player, seed, roll, amount, kind, signature, result, won, payout, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.OpID, s.BetAddress.String(), s.Player.String(), seedToDB(s.Seed), int64(s.Roll), amount,
		string(s.Kind), sig, result, s.Won, payout, s.SettledAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	s.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return nil
}

// Settlements returns every settlement recorded for a bet address, newest first
func (t *Tx) Settlements(ctx context.Context, betAddr solana.PublicKey) ([]*Settlement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, op_id, bet_address, player, seed, roll, amount, kind, signature, result, won, payout, settled_at
		FROM settlements
		WHERE bet_address = ?
		ORDER BY id DESC
	`, betAddr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return out, nil
}

// HasSettlement reports whether a bet address was ever closed
func (t *Tx) HasSettlement(ctx context.Context, betAddr solana.PublicKey) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlements WHERE bet_address = ?`, betAddr.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count settlements: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row rowScanner) (*Settlement, error) {
	var (
		s                  Settlement
		betAddr, player    string
		kind               string
		seed, roll, amount int64
		payout, settledAt  int64
		sig                sql.NullString
		result             sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.OpID, &betAddr, &player, &seed, &roll, &amount, &kind, &sig, &result, &s.Won, &payout, &settledAt); err != nil {
		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}

	var err error
	if s.BetAddress, err = solana.PublicKeyFromBase58(betAddr); err != nil {
		return nil, fmt.Errorf("bad bet address %q: %w", betAddr, err)
	}
	if s.Player, err = solana.PublicKeyFromBase58(player); err != nil {
		return nil, fmt.Errorf("bad player %q: %w", player, err)
	}
	if sig.Valid {
		parsed, err := solana.SignatureFromBase58(sig.String)
		if err != nil {
			return nil, fmt.Errorf("bad signature %q: %w", sig.String, err)
		}
		s.Signature = &parsed
	}
	if result.Valid {
		r := uint8(result.Int64)
		s.Result = &r
	}

	s.Seed = seedFromDB(seed)
	s.Roll = uint8(roll)
	s.Amount = uint64(amount)
	s.Kind = SettlementKind(kind)
	s.Payout = uint64(payout)
	s.SettledAt = time.Unix(settledAt, 0).UTC()
	return &s, nil
}

// Leaderboard ranks players by net winnings over resolved bets
func (t *Tx) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT player,
			COUNT(*) AS bets,
			SUM(won) AS wins,
			SUM(amount) AS wagered,
			SUM(payout) - SUM(amount) AS net
		FROM settlements
		WHERE kind = ?
		GROUP BY player
		ORDER BY net DESC, bets DESC
		LIMIT ?
	`, string(SettlementResolved), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var (
			e       LeaderboardEntry
			player  string
			wagered int64
		)
		if err := rows.Scan(&player, &e.Bets, &e.Wins, &wagered, &e.Net); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		if e.Player, err = solana.PublicKeyFromBase58(player); err != nil {
			return nil, fmt.Errorf("bad player %q: %w", player, err)
		}
		e.Wagered = uint64(wagered)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

// LinkTelegram binds a wallet to a Telegram chat for notifications
func (t *Tx) LinkTelegram(ctx context.Context, addr solana.PublicKey, telegramID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (address, telegram_id)
		VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET telegram_id = excluded.telegram_id
	`, addr.String(), telegramID)
	if err != nil {
		return fmt.Errorf("failed to link telegram: %w", err)
	}
	return nil
}

// TelegramID returns the chat bound to a wallet, or 0 if none
func (t *Tx) TelegramID(ctx context.Context, addr solana.PublicKey) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT telegram_id FROM users WHERE address = ?`, addr.String()).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get telegram id: %w", err)
	}
	return id, nil
}
