// Package core wires the auction engine and the collection registry to the
// state aggregate and serializes every mutating operation. Each operation
// runs against a state snapshot under a single mutex and either commits
// fully, publishing its buffered events, or reverts fully, leaving state and
// event stream untouched.
package core

import (
	"fmt"
	"math/big"
	"sync"

	"dutchdrop/core/events"
	"dutchdrop/core/state"
	"dutchdrop/crypto"
	"dutchdrop/native/auction"
	"dutchdrop/native/collection"
	"dutchdrop/storage"
)

var (
	// VaultAddress is the module account that accumulates auction proceeds.
	VaultAddress = crypto.ModuleAddress("dutchdrop/auction-vault")
	// CollectionAddress identifies the collection registry.
	CollectionAddress = crypto.ModuleAddress("dutchdrop/collection")
)

// GenesisAlloc seeds a native balance at first boot.
type GenesisAlloc struct {
	Address [20]byte
	Balance *big.Int
}

// Node owns the serialized state-mutation path around the auction ledger.
type Node struct {
	mu sync.Mutex

	state      *state.Manager
	auction    *auction.Engine
	collection *collection.Registry
	emitter    events.Emitter
}

// NewNode restores state from db and wires the engines. The auction config is
// validated here; a malformed config means the node never comes into
// existence.
func NewNode(db storage.Database, cfg auction.Config, operator [20]byte) (*Node, error) {
	manager, err := state.NewManager(db)
	if err != nil {
		return nil, err
	}
	engine, err := auction.NewEngine(cfg, operator, VaultAddress)
	if err != nil {
		return nil, err
	}
	registry := collection.NewRegistry(CollectionAddress)
	engine.SetState(manager)
	registry.SetState(manager)
	engine.SetIssuerResolver(func(addr [20]byte) (auction.Issuer, bool) {
		if addr == registry.Address() {
			return registry, true
		}
		return nil, false
	})
	return &Node{
		state:      manager,
		auction:    engine,
		collection: registry,
		emitter:    events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the downstream event sink. Passing nil discards
// committed events.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// SetNowFunc overrides the auction clock, for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.auction.SetNowFunc(now)
}

// ApplyGenesis seeds balances and role grants on a fresh database: the vault
// receives the minter capability on the registry and the operator the
// metadata capability. A node restored from existing state ignores the call.
func (n *Node) ApplyGenesis(allocs []GenesisAlloc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	fresh, err := n.state.Fresh()
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	for _, alloc := range allocs {
		if err := n.state.Credit(alloc.Address, alloc.Balance); err != nil {
			return fmt.Errorf("genesis alloc: %w", err)
		}
	}
	n.state.GrantRole(collection.RoleMinter, VaultAddress)
	n.state.GrantRole(collection.RoleMetadata, n.auction.Operator())
	return n.state.Commit()
}

// transition runs fn inside a serialized, all-or-nothing state transition.
func (n *Node) transition(fn func(buffer *events.Buffer) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	buffer := &events.Buffer{}
	n.auction.SetEmitter(buffer)
	n.collection.SetEmitter(buffer)
	defer func() {
		n.auction.SetEmitter(nil)
		n.collection.SetEmitter(nil)
	}()

	snap := n.state.Snapshot()
	if err := fn(buffer); err != nil {
		n.state.RevertToSnapshot(snap)
		buffer.Reset()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.RevertToSnapshot(snap)
		buffer.Reset()
		return err
	}
	n.state.DiscardSnapshot(snap)
	buffer.Flush(n.emitter)
	return nil
}

// Purchase executes the purchase operation for the buyer with the attached
// payment. Any failure, including delegation against an unbound authority or
// a failed refund, rolls the entire operation back.
func (n *Node) Purchase(buyer [20]byte, amount uint64, payment *big.Int) (*auction.Receipt, error) {
	var receipt *auction.Receipt
	err := n.transition(func(*events.Buffer) error {
		var err error
		receipt, err = n.auction.Purchase(buyer, amount, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// BindIssuanceAuthority performs the operator-only, once-only binding of the
// issuance authority reference.
func (n *Node) BindIssuanceAuthority(caller, authority [20]byte) error {
	return n.transition(func(*events.Buffer) error {
		return n.auction.BindAuthority(caller, authority)
	})
}

// WithdrawProceeds drains the vault to the operator and returns the amount
// transferred.
func (n *Node) WithdrawProceeds(caller [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.transition(func(*events.Buffer) error {
		var err error
		amount, err = n.auction.WithdrawProceeds(caller)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// SetCollectionBaseURI updates the metadata base locator on the registry.
func (n *Node) SetCollectionBaseURI(caller [20]byte, uri string) error {
	return n.transition(func(*events.Buffer) error {
		return n.collection.SetBaseURI(caller, uri)
	})
}

// --- read-only queries ---

// AuctionConfig returns a copy of the immutable pricing parameters.
func (n *Node) AuctionConfig() auction.Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.Config()
}

// AuctionState returns a clone of the purchase ledger.
func (n *Node) AuctionState() (*auction.State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.AuctionState()
}

// PriceAt returns the price in effect at t.
func (n *Node) PriceAt(t int64) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.PriceAt(t)
}

// CurrentPrice returns the price in effect now.
func (n *Node) CurrentPrice() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.CurrentPrice()
}

// MintedBy returns the number of items sold to the buyer so far.
func (n *Node) MintedBy(buyer [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, err := n.state.AuctionState()
	if err != nil {
		return 0, err
	}
	return st.MintedBy(buyer), nil
}

// Balance returns the native balance of the address.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.BalanceOf(addr)
}

// VaultBalance returns the proceeds currently held by the auction vault.
func (n *Node) VaultBalance() (*big.Int, error) {
	return n.Balance(VaultAddress)
}

// Operator returns the operator identity fixed at construction.
func (n *Node) Operator() [20]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.Operator()
}

// OwnerOf returns the owner of the token id.
func (n *Node) OwnerOf(id uint64) ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collection.OwnerOf(id)
}

// TokenURI returns the metadata locator for the token id.
func (n *Node) TokenURI(id uint64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collection.TokenURI(id)
}

// CollectionTotalSupply returns the number of items issued so far.
func (n *Node) CollectionTotalSupply() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collection.TotalSupply()
}
