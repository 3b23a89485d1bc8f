// Package reserve implements the reserve-backed token ledger: the supply guard
// that keeps issuance within attested reserves, the purchase and redemption
// state machine, loyalty accrual and the in-place migration of the ledger
// record between layouts.
package reserve

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
	"reserveledger/storage"
)

// LedgerIdentity is the ledger's own derived identity. It signs every token
// module call the engine makes and holds the record's native balance.
var LedgerIdentity = types.DeriveIdentity([]byte("ledger_state"))

// TokenModule performs token balance changes. Calls join the caller's
// transaction through the state manager.
type TokenModule interface {
	MintTo(st *state.Manager, mint, to, signer types.Address, amount uint64) error
	Transfer(st *state.Manager, mint, from, to, signer types.Address, amount uint64) error
	Burn(st *state.Manager, mint, from, signer types.Address, amount uint64) error
}

// NativeLedger moves native currency.
type NativeLedger interface {
	Transfer(st *state.Manager, from, to types.Address, amount uint64) error
	Balance(st *state.Manager, addr types.Address) (uint64, error)
}

// Metrics receives the outcome of every operation.
type Metrics interface {
	ObserveOperation(op string, code string, duration time.Duration)
	ObserveLedger(s *layout.LedgerState)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) ObserveLedger(*layout.LedgerState)              {}

var errNilStore = errors.New("reserve engine: store not configured")

// Engine executes ledger operations. Each operation runs in its own storage
// transaction; events are emitted only once that transaction has committed.
type Engine struct {
	store   *storage.Store
	tokens  TokenModule
	native  NativeLedger
	emitter events.Emitter
	logger  *slog.Logger
	metrics Metrics
	params  Params
	rent    layout.Rent
	nowFn   func() int64
}

// NewEngine wires the engine against a store and its two collaborators.
func NewEngine(store *storage.Store, tokens TokenModule, native NativeLedger) *Engine {
	return &Engine{
		store:   store,
		tokens:  tokens,
		native:  native,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: noopMetrics{},
		params:  DefaultParams(),
		rent:    layout.DefaultRent(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the unix-seconds time source.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// SetParams replaces the engine parameters after validating them.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

func (e *Engine) Params() Params { return e.params }

// SetRent replaces the minimum-balance schedule used when records are sized.
func (e *Engine) SetRent(r layout.Rent) { e.rent = r }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// txn is the per-operation context handed to operation bodies.
type txn struct {
	st      *state.Manager
	now     int64
	pending []events.Renderable
	ledger  *layout.LedgerState
}

func (t *txn) record(evt events.Renderable) { t.pending = append(t.pending, evt) }

// execute runs fn inside a fresh transaction. On success the buffered events
// are appended to the audit log in the same commit and emitted, tagged with
// their audit sequence, before the next commit can start. Emitters must not
// block or call back into the engine.
func (e *Engine) execute(op string, fn func(*txn) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	start := time.Now()
	tx := e.store.Begin()
	t := &txn{st: state.NewManager(tx), now: e.now()}

	err := fn(t)
	if err == nil {
		pending := t.pending
		seqs := make([]uint64, 0, len(pending))
		tx.BeforeCommit(func() error {
			for _, evt := range pending {
				entry, err := t.st.AppendAudit(evt.Event())
				if err != nil {
					return fmt.Errorf("reserve: audit %s: %w", evt.EventType(), err)
				}
				seqs = append(seqs, entry.Seq)
			}
			return nil
		})
		tx.AfterCommit(func() {
			for i, evt := range pending {
				e.emitter.Emit(events.Sequenced{Seq: seqs[i], Renderable: evt})
			}
		})
		err = tx.Commit()
	} else {
		tx.Discard()
	}

	elapsed := time.Since(start)
	if err != nil {
		code := "internal"
		if c, ok := CodeOf(err); ok {
			code = fmt.Sprintf("%d", c)
		} else if errors.Is(err, storage.ErrConflict) {
			code = "conflict"
		}
		e.metrics.ObserveOperation(op, code, elapsed)
		e.logger.Debug("ledger operation rejected", slog.String("op", op), slog.String("code", code), slog.Any("error", err))
		return err
	}

	e.metrics.ObserveOperation(op, "ok", elapsed)
	if t.ledger != nil {
		e.metrics.ObserveLedger(t.ledger)
	}
	e.logger.Info("ledger operation committed", slog.String("op", op), slog.Int("events", len(t.pending)), slog.Duration("elapsed", elapsed))
	return nil
}

// view runs fn against a read-only snapshot transaction.
func (e *Engine) view(fn func(st *state.Manager) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	tx := e.store.Begin()
	defer tx.Discard()
	return fn(state.NewManager(tx))
}

// loadLedger loads the current-layout ledger record into the transaction.
func (t *txn) loadLedger() (*layout.LedgerState, error) {
	return loadLedger(t.st)
}

// saveLedger persists s and remembers it for post-commit observation.
func (t *txn) saveLedger(s *layout.LedgerState) error {
	if err := storeLedger(t.st, s); err != nil {
		return err
	}
	t.ledger = s
	return nil
}

// LedgerState returns the decoded ledger record.
func (e *Engine) LedgerState() (*layout.LedgerState, error) {
	var out *layout.LedgerState
	err := e.view(func(st *state.Manager) error {
		s, err := loadLedger(st)
		out = s
		return err
	})
	return out, err
}

// LedgerLayout reports which layout the stored record uses.
func (e *Engine) LedgerLayout() (layout.Version, error) {
	var version layout.Version
	err := e.view(func(st *state.Manager) error {
		data, err := rawLedger(st)
		if err != nil {
			return err
		}
		version, err = layout.Detect(data)
		return err
	})
	return version, err
}

// UserProfile returns the profile of owner.
func (e *Engine) UserProfile(owner types.Address) (*UserProfile, error) {
	var out *UserProfile
	err := e.view(func(st *state.Manager) error {
		profile, ok, err := loadProfile(st, owner)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProfileNotFound
		}
		out = profile
		return nil
	})
	return out, err
}

// Redemption returns the redemption request keyed by requester and id.
func (e *Engine) Redemption(requester types.Address, id uint64) (*RedemptionRequest, error) {
	var out *RedemptionRequest
	err := e.view(func(st *state.Manager) error {
		req, err := loadRedemption(st, requester, id)
		out = req
		return err
	})
	return out, err
}

// AuditEntries returns committed audit entries starting at sequence from.
func (e *Engine) AuditEntries(from uint64, limit int) ([]*state.AuditEntry, error) {
	var out []*state.AuditEntry
	err := e.view(func(st *state.Manager) error {
		entries, err := st.AuditEntries(from, limit)
		out = entries
		return err
	})
	return out, err
}
