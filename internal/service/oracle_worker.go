package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dicegame/internal/logger"
	"dicegame/internal/oracle"
)

// DefaultOracleInterval is how often the worker looks for open bets
const DefaultOracleInterval = 5 * time.Second

// oracleBatchSize caps the bets resolved per tick
const oracleBatchSize = 100

// OracleWorker is the reference off-chain oracle: it signs every open bet and
// submits the signature for settlement
type OracleWorker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	ticker   *time.Ticker
	interval time.Duration
	engine   *Engine
	signer   *oracle.Signer
}

// NewOracleWorker creates a new oracle worker
func NewOracleWorker(engine *Engine, signer *oracle.Signer, interval time.Duration) *OracleWorker {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = DefaultOracleInterval
	}

	return &OracleWorker{
		ctx:      ctx,
		cancel:   cancel,
		ticker:   time.NewTicker(interval),
		interval: interval,
		engine:   engine,
		signer:   signer,
	}
}

// Start begins the background worker
func (w *OracleWorker) Start() {
	logger.Debug("oracle", "oracle_worker_started", fmt.Sprintf("interval=%v public_key=%s", w.interval, w.signer.PublicKey()))

	// Run immediately on start
	w.resolveOpenBets()

	// Then run on ticker
	go func() {
		for {
			select {
			case <-w.ticker.C:
				w.resolveOpenBets()
			case <-w.ctx.Done():
				logger.Debug("oracle", "oracle_worker_stopped", "")
				return
			}
		}
	}()
}

// Stop stops the background worker
func (w *OracleWorker) Stop() {
	w.ticker.Stop()
	w.cancel()
}

// resolveOpenBets signs and settles every open bet. Failures are logged and
// retried on the next tick. It returns the number of bets settled.
func (w *OracleWorker) resolveOpenBets() int {
	cfg, err := w.engine.Config(w.ctx)
	if errors.Is(err, ErrNotInitialized) {
		return 0
	}
	if err != nil {
		logger.Error("oracle", "oracle_worker_config_failed", err)
		return 0
	}
	if !cfg.OraclePublicKey.Equals(w.signer.PublicKey()) {
		logger.Debug("oracle", "oracle_worker_key_mismatch", fmt.Sprintf("configured=%s signer=%s", cfg.OraclePublicKey, w.signer.PublicKey()))
		return 0
	}

	bets, err := w.engine.OpenBets(w.ctx, oracleBatchSize)
	if err != nil {
		logger.Error("oracle", "oracle_worker_query_failed", err)
		return 0
	}

	resolved := 0
	for _, b := range bets {
		sig, err := w.signer.SignBet(b.Address, &b.Bet)
		if err != nil {
			logger.Error("oracle", "oracle_worker_sign_failed", err)
			continue
		}
		if _, err := w.engine.ResolveBet(w.ctx, b.Address, sig[:]); err != nil {
			// Refunded or settled by someone else in the meantime
			if errors.Is(err, ErrBetNotFound) {
				continue
			}
			logger.Debug("oracle", "oracle_worker_resolve_failed", fmt.Sprintf("bet=%s error=%s", b.Address, err.Error()))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		logger.Debug("oracle", "oracle_worker_resolved", fmt.Sprintf("count=%d", resolved))
	}
	return resolved
}
