package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// WelcomeBonusAmount is the default welcome bonus in lamports (1 SOL)
	WelcomeBonusAmount uint64 = 1_000_000_000
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Store is the SQLite-backed account storage
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database connection with WAL mode and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		absPath, err := filepath.Abs(dbPath)
		if err != nil {
			return nil, err
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single connection serializes every transaction and keeps an
	// in-memory database alive for the lifetime of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations creates the necessary tables
func (s *Store) runMigrations() error {
	accountsTable := `
		CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			lamports INTEGER NOT NULL DEFAULT 0 CHECK (lamports >= 0),
			data BLOB,
			liability INTEGER NOT NULL DEFAULT 0 CHECK (liability >= 0),
			created_at INTEGER NOT NULL
		)
	`

	transactionsTable := `
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id TEXT NOT NULL,
			account TEXT NOT NULL,
			amount INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			description TEXT,
			created_at INTEGER NOT NULL
		)
	`

	settlementsTable := `
		CREATE TABLE IF NOT EXISTS settlements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id TEXT NOT NULL,
			bet_address TEXT NOT NULL,
			player TEXT NOT NULL,
			seed INTEGER NOT NULL,
			roll INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			kind TEXT NOT NULL,
			signature TEXT,
			result INTEGER,
			won INTEGER NOT NULL DEFAULT 0,
			payout INTEGER NOT NULL DEFAULT 0,
			settled_at INTEGER NOT NULL
		)
	`

	usersTable := `
		CREATE TABLE IF NOT EXISTS users (
			address TEXT PRIMARY KEY,
			telegram_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	// Create indexes for better query performance
	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_accounts_kind ON accounts(kind);
		CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account);
		CREATE INDEX IF NOT EXISTS idx_transactions_op_id ON transactions(op_id);
		CREATE INDEX IF NOT EXISTS idx_settlements_bet_address ON settlements(bet_address);
		CREATE INDEX IF NOT EXISTS idx_settlements_player ON settlements(player);
	`

	for _, stmt := range []string{accountsTable, transactionsTable, settlementsTable, usersTable, createIndexes} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Tx is one atomic unit of work. Every balance movement made through a Tx is
// tagged with the same operation id in the ledger.
type Tx struct {
	tx   *sql.Tx
	opID string
	now  time.Time
}

// OpID returns the ledger operation id shared by all mutations in this Tx
func (t *Tx) OpID() string {
	return t.opID
}

// Now is the clock reading the operation runs at
func (t *Tx) Now() time.Time {
	return t.now
}

// Update runs fn inside a transaction. If fn returns an error every mutation is
// rolled back; otherwise the transaction is committed.
func (s *Store) Update(ctx context.Context, now time.Time, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, opID: uuid.NewString(), now: now}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{tx: sqlTx, now: time.Now()})
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrBalanceOverflow
	}
	return int64(v), nil
}

// GetAccount retrieves an account by address
func (t *Tx) GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	var (
		a         Account
		kind      string
		lamports  int64
		liability int64
		createdAt int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT kind, lamports, data, liability, created_at
		FROM accounts
		WHERE address = ?
	`, addr.String()).Scan(&kind, &lamports, &a.Data, &liability, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	a.Address = addr
	a.Kind = AccountKind(kind)
	a.Lamports = uint64(lamports)
	a.Liability = uint64(liability)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

// CreateAccount inserts a new account; the address must be unused
func (t *Tx) CreateAccount(ctx context.Context, a *Account) error {
	lamports, err := toInt64(a.Lamports)
	if err != nil {
		return err
	}
	liability, err := toInt64(a.Liability)
	if err != nil {
		return err
	}

	var exists int
	err = t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE address = ?`, a.Address.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, a.Address)
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO accounts (address, kind, lamports, data, liability, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.Address.String(), string(a.Kind), lamports, a.Data, liability, a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *Tx) setLamports(ctx context.Context, addr solana.PublicKey, lamports uint64) error {
	v, err := toInt64(lamports)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE accounts SET lamports = ? WHERE address = ?`, v, addr.String())
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func (t *Tx) logTransaction(ctx context.Context, addr solana.PublicKey, amount int64, sourceType, description string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (op_id, account, amount, source_type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.opID, addr.String(), amount, sourceType, description, t.now.Unix())
	if err != nil {
		return fmt.Errorf("failed to log transaction: %w", err)
	}
	return nil
}

// Transfer moves amount lamports from one account to another and writes both
// ledger legs. Balances are checked in Go; the source never goes negative and
// the destination never overflows.
func (t *Tx) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, sourceType, description string) error {
	signed, err := toInt64(amount)
	if err != nil {
		return err
	}
	if from.Equals(to) {
		return fmt.Errorf("transfer to self: %s", from)
	}

	src, err := t.GetAccount(ctx, from)
	if err != nil {
		return err
	}
	dst, err := t.GetAccount(ctx, to)
	if err != nil {
		return err
	}

	if src.Lamports < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src.Lamports, amount)
	}
	if dst.Lamports > math.MaxInt64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}

	if err := t.setLamports(ctx, from, src.Lamports-amount); err != nil {
		return err
	}
	if err := t.setLamports(ctx, to, dst.Lamports+amount); err != nil {
		return err
	}

	if err := t.logTransaction(ctx, from, -signed, sourceType, description); err != nil {
		return err
	}
	return t.logTransaction(ctx, to, signed, sourceType, description)
}

// Credit mints lamports into an account (welcome bonus)
func (t *Tx) Credit(ctx context.Context, addr solana.PublicKey, amount uint64, sourceType, description string) error {
	signed, err := toInt64(amount)
	if err != nil {
		return err
	}
	acct, err := t.GetAccount(ctx, addr)
	if err != nil {
		return err
	}
	if acct.Lamports > math.MaxInt64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr)
	}
	if err := t.setLamports(ctx, addr, acct.Lamports+amount); err != nil {
		return err
	}
	return t.logTransaction(ctx, addr, signed, sourceType, description)
}

// CloseAccount drains the remaining lamports of addr into beneficiary and
// deletes the account. It returns the amount reclaimed.
func (t *Tx) CloseAccount(ctx context.Context, addr, beneficiary solana.PublicKey, description string) (uint64, error) {
	acct, err := t.GetAccount(ctx, addr)
	if err != nil {
		return 0, err
	}

	reclaimed := acct.Lamports
	if reclaimed > 0 {
		if err := t.Transfer(ctx, addr, beneficiary, reclaimed, SourceRecordReclaim, description); err != nil {
			return 0, err
		}
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM accounts WHERE address = ?`, addr.String())
	if err != nil {
		return 0, fmt.Errorf("failed to close account: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return reclaimed, nil
}

// ListAccounts returns accounts of a kind, oldest first
func (t *Tx) ListAccounts(ctx context.Context, kind AccountKind, limit int) ([]*Account, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT address, lamports, data, liability, created_at
		FROM accounts
		WHERE kind = ?
		ORDER BY created_at ASC, address ASC
		LIMIT ?
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var (
			a                   Account
			addr                string
			lamports, liability int64
			createdAt           int64
		)
		if err := rows.Scan(&addr, &lamports, &a.Data, &liability, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if a.Address, err = solana.PublicKeyFromBase58(addr); err != nil {
			return nil, fmt.Errorf("bad address %q: %w", addr, err)
		}
		a.Kind = kind
		a.Lamports = uint64(lamports)
		a.Liability = uint64(liability)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// OpenLiability sums the reserved payouts of every open bet
func (t *Tx) OpenLiability(ctx context.Context) (uint64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT liability FROM accounts WHERE kind = ?`, string(AccountKindBet))
	if err != nil {
		return 0, fmt.Errorf("failed to query liability: %w", err)
	}
	defer rows.Close()

	var total uint64
	for rows.Next() {
		var l int64
		if err := rows.Scan(&l); err != nil {
			return 0, fmt.Errorf("failed to scan liability: %w", err)
		}
		if total > math.MaxUint64-uint64(l) {
			return 0, ErrBalanceOverflow
		}
		total += uint64(l)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating liability: %w", err)
	}
	return total, nil
}

// Ledger returns the most recent transactions touching addr
func (t *Tx) Ledger(ctx context.Context, addr solana.PublicKey, limit int) ([]Transaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, op_id, amount, source_type, description, created_at
		FROM transactions
		WHERE account = ?
		ORDER BY id DESC
		LIMIT ?
	`, addr.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var (
			tr        Transaction
			desc      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&tr.ID, &tr.OpID, &tr.Amount, &tr.SourceType, &desc, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tr.Account = addr
		tr.Description = desc.String
		tr.CreatedAt = time.Unix(createdAt, 0).UTC()
		txs = append(txs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}
