package auction

import (
	"fmt"
	"math/big"
)

const (
	// MintCap is the hard bound on the total number of items the auction may sell.
	MintCap uint64 = 10_000
	// CapPerAddress is the hard bound on items sold to a single buyer.
	CapPerAddress uint64 = 4
)

// Config captures the immutable pricing parameters fixed at construction.
// Prices are denominated in the smallest native-currency unit and times are
// unix seconds.
type Config struct {
	StartPrice *big.Int
	EndPrice   *big.Int
	StartTime  int64
	EndTime    int64
	StepSize   int64
}

// Validate rejects malformed construction parameters. An engine is never
// created over an invalid config.
func (c Config) Validate() error {
	if c.StartPrice == nil || c.EndPrice == nil {
		return fmt.Errorf("auction: start and end price required")
	}
	if c.EndPrice.Sign() < 0 {
		return fmt.Errorf("auction: end price must be non-negative")
	}
	if c.StartPrice.Cmp(c.EndPrice) <= 0 {
		return fmt.Errorf("auction: start price must exceed end price")
	}
	if c.EndTime <= c.StartTime {
		return fmt.Errorf("auction: end time must be after start time")
	}
	if c.StepSize <= 0 {
		return fmt.Errorf("auction: step size must be positive")
	}
	if (c.EndTime-c.StartTime)%c.StepSize != 0 {
		return fmt.Errorf("auction: duration must be a multiple of the step size")
	}
	return nil
}

// TotalSteps returns the number of price steps in the auction window. Only
// meaningful on a validated config.
func (c Config) TotalSteps() int64 {
	if c.StepSize <= 0 {
		return 0
	}
	return (c.EndTime - c.StartTime) / c.StepSize
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	clone := c
	if c.StartPrice != nil {
		clone.StartPrice = new(big.Int).Set(c.StartPrice)
	}
	if c.EndPrice != nil {
		clone.EndPrice = new(big.Int).Set(c.EndPrice)
	}
	return clone
}

// State is the mutable purchase ledger owned by the engine. All mutation goes
// through the engine operations; readers receive clones.
type State struct {
	TotalMinted    uint64
	TotalRaised    *big.Int
	Minted         map[[20]byte]uint64
	AuthorityBound bool
	Authority      [20]byte
}

// NewState returns an empty ledger with zero-valued counters and an unbound
// issuance authority.
func NewState() *State {
	return &State{
		TotalRaised: big.NewInt(0),
		Minted:      make(map[[20]byte]uint64),
	}
}

// Clone returns a deep copy of the ledger so callers can safely mutate the
// copy without affecting the stored instance.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	clone := &State{
		TotalMinted:    s.TotalMinted,
		TotalRaised:    big.NewInt(0),
		Minted:         make(map[[20]byte]uint64, len(s.Minted)),
		AuthorityBound: s.AuthorityBound,
		Authority:      s.Authority,
	}
	if s.TotalRaised != nil {
		clone.TotalRaised = new(big.Int).Set(s.TotalRaised)
	}
	for addr, count := range s.Minted {
		clone.Minted[addr] = count
	}
	return clone
}

// MintedBy returns the number of items already sold to the buyer.
func (s *State) MintedBy(buyer [20]byte) uint64 {
	if s == nil || s.Minted == nil {
		return 0
	}
	return s.Minted[buyer]
}

// Receipt summarises a committed purchase.
type Receipt struct {
	Buyer        [20]byte
	Amount       uint64
	Price        *big.Int
	Cost         *big.Int
	Refund       *big.Int
	FirstTokenID uint64
}
