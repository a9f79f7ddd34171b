package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// AccountKind is the discriminant of a stored account
type AccountKind string

const (
	AccountKindWallet AccountKind = "wallet"
	AccountKindVault  AccountKind = "vault"
	AccountKindConfig AccountKind = "config"
	AccountKindBet    AccountKind = "bet"
)

// Ledger source types
const (
	SourceWelcomeBonus  = "WELCOME_BONUS"
	SourceReserve       = "RESERVE"
	SourceBet           = "BET"
	SourceRecordDeposit = "RECORD_DEPOSIT"
	SourceWinPayout     = "WIN_PAYOUT"
	SourceRefund        = "REFUND"
	SourceRecordReclaim = "RECORD_RECLAIM"
)

// ErrInvalidRecord is returned when account data does not decode as the expected record
var ErrInvalidRecord = errors.New("invalid record data")

// Account is a balance-bearing row keyed by its address
type Account struct {
	Address   solana.PublicKey `json:"address"`
	Kind      AccountKind      `json:"kind"`
	Lamports  uint64           `json:"lamports"`
	Data      []byte           `json:"-"`
	Liability uint64           `json:"liability,omitempty"` // reserved worst-case payout, bets only
	CreatedAt time.Time        `json:"created_at"`
}

// Transaction represents a balance change
type Transaction struct {
	ID          int64            `json:"id"`
	OpID        string           `json:"op_id"`
	Account     solana.PublicKey `json:"account"`
	Amount      int64            `json:"amount"` // can be negative
	SourceType  string           `json:"source_type"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
}

// SettlementKind is the terminal state a bet record was closed into
type SettlementKind string

const (
	SettlementResolved SettlementKind = "RESOLVED"
	SettlementRefunded SettlementKind = "REFUNDED"
)

// Settlement is the audit entry written when a bet record is closed.
// Signature and Result are only set for resolved bets; anyone can recompute
// Result from Signature.
type Settlement struct {
	ID         int64             `json:"id"`
	OpID       string            `json:"op_id"`
	BetAddress solana.PublicKey  `json:"bet_address"`
	Player     solana.PublicKey  `json:"player"`
	Seed       uint64            `json:"seed"`
	Roll       uint8             `json:"roll"`
	Amount     uint64            `json:"amount"`
	Kind       SettlementKind    `json:"kind"`
	Signature  *solana.Signature `json:"signature,omitempty"`
	Result     *uint8            `json:"result,omitempty"`
	Won        bool              `json:"won"`
	Payout     uint64            `json:"payout"` // lamports moved from vault to player
	SettledAt  time.Time         `json:"settled_at"`
}

// LeaderboardEntry aggregates resolved bets per player
type LeaderboardEntry struct {
	Player  solana.PublicKey `json:"player"`
	Bets    int64            `json:"bets"`
	Wins    int64            `json:"wins"`
	Wagered uint64           `json:"wagered"`
	Net     int64            `json:"net"`
}

// Config is the program-wide configuration record
type Config struct {
	Authority       solana.PublicKey `json:"authority"`
	OraclePublicKey solana.PublicKey `json:"oracle_public_key"`
	HouseEdgeBps    uint16           `json:"house_edge_bps"`
	MinBet          uint64           `json:"min_bet"`
	MaxBet          uint64           `json:"max_bet"`
	RefundTimeout   int64            `json:"refund_timeout"` // seconds
	VaultBump       uint8            `json:"vault_bump"`
	Bump            uint8            `json:"bump"`
}

// Bet is the per-wager record; it exists only while the bet is open
type Bet struct {
	Player    solana.PublicKey `json:"player"`
	Seed      uint64           `json:"seed"`
	Roll      uint8            `json:"roll"`
	Amount    uint64           `json:"amount"`
	CreatedAt int64            `json:"created_at"` // unix seconds
	Bump      uint8            `json:"bump"`
}

var (
	configDiscriminator = discriminator("Config")
	betDiscriminator    = discriminator("Bet")
)

const (
	discriminatorLength = 8

	// ConfigDataLength is the encoded size of a Config record
	ConfigDataLength = discriminatorLength + 32 + 32 + 2 + 8 + 8 + 8 + 1 + 1
	// BetDataLength is the encoded size of a Bet record
	BetDataLength = discriminatorLength + 32 + 8 + 1 + 8 + 8 + 1
)

func discriminator(name string) [discriminatorLength]byte {
	var d [discriminatorLength]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(d[:], sum[:discriminatorLength])
	return d
}

// MarshalWithEncoder writes the record body in borsh layout
func (c Config) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(c.Authority[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(c.OraclePublicKey[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint16(c.HouseEdgeBps, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(c.MinBet, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(c.MaxBet, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteInt64(c.RefundTimeout, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint8(c.VaultBump); err != nil {
		return err
	}
	return enc.WriteUint8(c.Bump)
}

// UnmarshalWithDecoder reads the record body in borsh layout
func (c *Config) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readKey(dec, &c.Authority); err != nil {
		return err
	}
	if err = readKey(dec, &c.OraclePublicKey); err != nil {
		return err
	}
	if c.HouseEdgeBps, err = dec.ReadUint16(binary.LittleEndian); err != nil {
		return err
	}
	if c.MinBet, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if c.MaxBet, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if c.RefundTimeout, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	if c.VaultBump, err = dec.ReadUint8(); err != nil {
		return err
	}
	c.Bump, err = dec.ReadUint8()
	return err
}

// MarshalWithEncoder writes the record body in borsh layout
func (b Bet) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(b.Player[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(b.Seed, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint8(b.Roll); err != nil {
		return err
	}
	if err := enc.WriteUint64(b.Amount, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteInt64(b.CreatedAt, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteUint8(b.Bump)
}

// UnmarshalWithDecoder reads the record body in borsh layout
func (b *Bet) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if err = readKey(dec, &b.Player); err != nil {
		return err
	}
	if b.Seed, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if b.Roll, err = dec.ReadUint8(); err != nil {
		return err
	}
	if b.Amount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if b.CreatedAt, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	b.Bump, err = dec.ReadUint8()
	return err
}

func readKey(dec *bin.Decoder, key *solana.PublicKey) error {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(key[:], raw)
	return nil
}

type recordBody interface {
	MarshalWithEncoder(enc *bin.Encoder) error
}

type recordDecoder interface {
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

func encodeRecord(disc [discriminatorLength]byte, body recordBody) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if err := body.MarshalWithEncoder(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte, disc [discriminatorLength]byte, length int, body recordDecoder) error {
	if len(data) != length {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidRecord, len(data), length)
	}
	if !bytes.Equal(data[:discriminatorLength], disc[:]) {
		return fmt.Errorf("%w: discriminator mismatch", ErrInvalidRecord)
	}
	dec := bin.NewBorshDecoder(data[discriminatorLength:])
	if err := body.UnmarshalWithDecoder(dec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if dec.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidRecord, dec.Remaining())
	}
	return nil
}

// EncodeConfig serializes a Config record with its discriminator
func EncodeConfig(c *Config) ([]byte, error) {
	return encodeRecord(configDiscriminator, c)
}

// DecodeConfig parses data that must hold a Config record
func DecodeConfig(data []byte) (*Config, error) {
	var c Config
	if err := decodeRecord(data, configDiscriminator, ConfigDataLength, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeBet serializes a Bet record with its discriminator
func EncodeBet(b *Bet) ([]byte, error) {
	return encodeRecord(betDiscriminator, b)
}

// DecodeBet parses data that must hold a Bet record
func DecodeBet(data []byte) (*Bet, error) {
	var b Bet
	if err := decodeRecord(data, betDiscriminator, BetDataLength, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ConfigFromAccount decodes a config account, checking its kind first
func ConfigFromAccount(a *Account) (*Config, error) {
	if a.Kind != AccountKindConfig {
		return nil, fmt.Errorf("%w: account kind %s is not config", ErrInvalidRecord, a.Kind)
	}
	return DecodeConfig(a.Data)
}

// BetFromAccount decodes a bet account, checking its kind first
func BetFromAccount(a *Account) (*Bet, error) {
	if a.Kind != AccountKindBet {
		return nil, fmt.Errorf("%w: account kind %s is not bet", ErrInvalidRecord, a.Kind)
	}
	return DecodeBet(a.Data)
}

// MinimumBalance is the rent-exempt deposit for an account holding dataLen bytes
func MinimumBalance(dataLen int) uint64 {
	const (
		accountStorageOverhead = 128
		lamportsPerByteYear    = 3480
		exemptionYears         = 2
	)
	return uint64(accountStorageOverhead+dataLen) * lamportsPerByteYear * exemptionYears
}
