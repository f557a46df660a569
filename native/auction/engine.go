package auction

import (
	"fmt"
	"math/big"
	"time"

	"dutchdrop/core/events"
)

type engineState interface {
	AuctionState() (*State, error)
	SetAuctionState(*State) error
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

// Issuer is the capability the engine holds against the issuance authority.
// The engine depends only on this contract, never on a registry implementation.
type Issuer interface {
	Mint(caller [20]byte, id uint64, owner [20]byte) error
}

// Engine implements the purchase ledger over a narrow state interface. The
// engine itself performs no locking or rollback: callers are expected to run
// each mutating operation inside a serialized, all-or-nothing state
// transition and to revert every mutation when an operation returns an error.
type Engine struct {
	cfg      Config
	operator [20]byte
	vault    [20]byte
	state    engineState
	emitter  events.Emitter
	issuerFn func(addr [20]byte) (Issuer, bool)
	nowFn    func() int64
}

// NewEngine validates the config and returns an engine bound to the operator
// identity. The vault is the module account that holds captured payments.
func NewEngine(cfg Config, operator, vault [20]byte) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg.Clone(),
		operator: operator,
		vault:    vault,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetIssuerResolver configures how a bound authority address is resolved to a
// live Issuer.
func (e *Engine) SetIssuerResolver(fn func(addr [20]byte) (Issuer, bool)) {
	e.issuerFn = fn
}

// Config returns a copy of the immutable auction parameters.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// Operator returns the operator identity fixed at construction.
func (e *Engine) Operator() [20]byte { return e.operator }

// Vault returns the module account holding auction proceeds.
func (e *Engine) Vault() [20]byte { return e.vault }

// PriceAt proxies the pure pricing function.
func (e *Engine) PriceAt(t int64) *big.Int { return e.cfg.PriceAt(t) }

// CurrentPrice returns the price in effect at the engine's current time.
func (e *Engine) CurrentPrice() *big.Int { return e.cfg.PriceAt(e.now()) }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadState() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st, err := e.state.AuctionState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = NewState()
	}
	return st, nil
}

// Purchase sells amount items to the buyer at the price in effect now,
// capturing the attached payment, committing the ledger, delegating item
// creation to the bound issuance authority and refunding any overpayment.
// Ledger commitment strictly precedes delegation and refund; a failure at any
// later stage returns an error and relies on the caller to roll the whole
// transition back.
func (e *Engine) Purchase(buyer [20]byte, amount uint64, payment *big.Int) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if payment == nil || payment.Sign() < 0 {
		return nil, fmt.Errorf("auction: payment must be non-negative")
	}
	now := e.now()
	if now < e.cfg.StartTime {
		return nil, ErrNotStarted
	}
	price := e.cfg.PriceAt(now)
	cost := new(big.Int).Mul(price, new(big.Int).SetUint64(amount))

	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if amount > MintCap-st.TotalMinted {
		return nil, ErrSupplyCapReached
	}
	mintedBefore := st.MintedBy(buyer)
	if amount > CapPerAddress-mintedBefore || mintedBefore > CapPerAddress {
		return nil, ErrBuyerCapReached
	}
	if payment.Cmp(cost) < 0 {
		return nil, ErrInsufficientPayment
	}
	if payment.Sign() > 0 {
		if err := e.state.Transfer(buyer, e.vault, payment); err != nil {
			return nil, fmt.Errorf("auction: capture payment: %w", err)
		}
	}

	firstID := st.TotalMinted + 1
	st.TotalMinted += amount
	if st.Minted == nil {
		st.Minted = make(map[[20]byte]uint64)
	}
	st.Minted[buyer] = mintedBefore + amount
	if st.TotalRaised == nil {
		st.TotalRaised = big.NewInt(0)
	}
	st.TotalRaised = new(big.Int).Add(st.TotalRaised, cost)
	if err := e.state.SetAuctionState(st); err != nil {
		return nil, err
	}

	// Interactions only after the ledger commit above.
	if !st.AuthorityBound {
		return nil, ErrAuthorityUnbound
	}
	if e.issuerFn == nil {
		return nil, ErrAuthorityUnbound
	}
	issuer, ok := e.issuerFn(st.Authority)
	if !ok || issuer == nil {
		return nil, ErrAuthorityUnbound
	}
	for i := uint64(0); i < amount; i++ {
		if err := issuer.Mint(e.vault, firstID+i, buyer); err != nil {
			return nil, fmt.Errorf("auction: issue item %d: %w", firstID+i, err)
		}
	}

	refund := new(big.Int).Sub(payment, cost)
	if refund.Sign() > 0 {
		if err := e.state.Transfer(e.vault, buyer, refund); err != nil {
			return nil, fmt.Errorf("auction: refund: %w", err)
		}
	}

	receipt := &Receipt{
		Buyer:        buyer,
		Amount:       amount,
		Price:        price,
		Cost:         cost,
		Refund:       refund,
		FirstTokenID: firstID,
	}
	e.emit(Purchased{
		Buyer:        buyer,
		Amount:       amount,
		Price:        new(big.Int).Set(price),
		Cost:         new(big.Int).Set(cost),
		Refund:       new(big.Int).Set(refund),
		FirstTokenID: firstID,
	})
	return receipt, nil
}

// BindAuthority records the issuance authority reference. Only the operator
// may bind, and only while the reference is unset; the unset-to-bound
// transition happens at most once for the lifetime of the ledger.
func (e *Engine) BindAuthority(caller, authority [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.operator {
		return ErrUnauthorized
	}
	if authority == ([20]byte{}) {
		return fmt.Errorf("auction: authority address required")
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.AuthorityBound {
		return ErrAlreadyBound
	}
	st.AuthorityBound = true
	st.Authority = authority
	if err := e.state.SetAuctionState(st); err != nil {
		return err
	}
	e.emit(AuthorityBound{Authority: authority})
	return nil
}

// WithdrawProceeds drains the entire vault balance to the operator. A
// zero-balance withdrawal succeeds and still emits a zero-amount event.
func (e *Engine) WithdrawProceeds(caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != e.operator {
		return nil, ErrUnauthorized
	}
	balance, err := e.state.BalanceOf(e.vault)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = big.NewInt(0)
	}
	amount := new(big.Int).Set(balance)
	if amount.Sign() > 0 {
		if err := e.state.Transfer(e.vault, e.operator, amount); err != nil {
			return nil, fmt.Errorf("auction: withdraw: %w", err)
		}
	}
	e.emit(Withdrawn{To: e.operator, Amount: new(big.Int).Set(amount)})
	return amount, nil
}
