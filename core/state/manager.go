// Package state owns the persistent aggregate behind the node: native-currency
// accounts, the auction purchase ledger, the collection registry and role
// grants. The aggregate lives in memory, supports deep-copy snapshots so a
// failed operation can be rolled back wholesale, and commits to the key-value
// store as RLP records.
package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dutchdrop/core/types"
	"dutchdrop/native/auction"
	"dutchdrop/storage"
)

var (
	accountsKey   = ethcrypto.Keccak256([]byte("dutchdrop/accounts"))
	auctionKey    = ethcrypto.Keccak256([]byte("dutchdrop/auction-ledger"))
	collectionKey = ethcrypto.Keccak256([]byte("dutchdrop/collection"))
	rolesKey      = ethcrypto.Keccak256([]byte("dutchdrop/roles"))
)

type accountEntry struct {
	Address [20]byte
	Nonce   uint64
	Balance *big.Int
}

type mintedEntry struct {
	Buyer [20]byte
	Count uint64
}

type auctionRecord struct {
	TotalMinted    uint64
	TotalRaised    *big.Int
	Minted         []mintedEntry
	AuthorityBound bool
	Authority      [20]byte
}

type tokenEntry struct {
	ID    uint64
	Owner [20]byte
}

type collectionRecord struct {
	BaseURI string
	Tokens  []tokenEntry
}

type roleEntry struct {
	Role    string
	Members [][20]byte
}

// Manager is the in-memory aggregate. It is not safe for concurrent use; the
// node serializes every mutating operation around it.
type Manager struct {
	db storage.Database

	accounts map[[20]byte]*types.Account
	ledger   *auction.State
	baseURI  string
	tokens   map[uint64][20]byte
	roles    map[string]map[[20]byte]bool

	snapshots []*snapshotFrame
}

type snapshotFrame struct {
	accounts map[[20]byte]*types.Account
	ledger   *auction.State
	baseURI  string
	tokens   map[uint64][20]byte
	roles    map[string]map[[20]byte]bool
}

// NewManager returns a manager over the database, restoring any previously
// committed aggregate.
func NewManager(db storage.Database) (*Manager, error) {
	m := &Manager{
		db:       db,
		accounts: make(map[[20]byte]*types.Account),
		ledger:   auction.NewState(),
		tokens:   make(map[uint64][20]byte),
		roles:    make(map[string]map[[20]byte]bool),
	}
	if db != nil {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Fresh reports whether the aggregate has no committed ledger yet, i.e. the
// database was empty at construction.
func (m *Manager) Fresh() (bool, error) {
	if m.db == nil {
		return true, nil
	}
	has, err := m.db.Has(auctionKey)
	if err != nil {
		return false, err
	}
	return !has, nil
}

// --- accounts ---

func (m *Manager) getAccount(addr [20]byte) *types.Account {
	if acc, ok := m.accounts[addr]; ok {
		return acc
	}
	acc := &types.Account{Balance: big.NewInt(0)}
	m.accounts[addr] = acc
	return acc
}

// BalanceOf returns a copy of the address's native balance.
func (m *Manager) BalanceOf(addr [20]byte) (*big.Int, error) {
	acc, ok := m.accounts[addr]
	if !ok || acc.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Balance), nil
}

// Credit adds amount to the address's balance. Used for genesis allocations.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	acc := m.getAccount(addr)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return nil
}

// Transfer moves amount between accounts, rejecting overdrafts.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc := m.getAccount(from)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: insufficient funds")
	}
	toAcc := m.getAccount(to)
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	return nil
}

// --- auction ledger ---

// AuctionState returns a clone of the purchase ledger.
func (m *Manager) AuctionState() (*auction.State, error) {
	return m.ledger.Clone(), nil
}

// SetAuctionState replaces the purchase ledger with a clone of st.
func (m *Manager) SetAuctionState(st *auction.State) error {
	if st == nil {
		return fmt.Errorf("state: nil auction ledger")
	}
	m.ledger = st.Clone()
	return nil
}

// --- collection registry ---

func (m *Manager) TokenPut(id uint64, owner [20]byte) error {
	if id == 0 {
		return fmt.Errorf("state: token id must be positive")
	}
	m.tokens[id] = owner
	return nil
}

func (m *Manager) TokenGet(id uint64) ([20]byte, bool) {
	owner, ok := m.tokens[id]
	return owner, ok
}

func (m *Manager) TokenCount() uint64 {
	return uint64(len(m.tokens))
}

func (m *Manager) BaseURI() string { return m.baseURI }

func (m *Manager) SetBaseURI(uri string) error {
	m.baseURI = uri
	return nil
}

// --- roles ---

// HasRole reports whether the address holds the role.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	members, ok := m.roles[role]
	if !ok {
		return false
	}
	return members[addr]
}

// GrantRole authorizes the address for the role. Role grants are a deployment
// concern; nothing in the node grants roles implicitly.
func (m *Manager) GrantRole(role string, addr [20]byte) {
	members, ok := m.roles[role]
	if !ok {
		members = make(map[[20]byte]bool)
		m.roles[role] = members
	}
	members[addr] = true
}

// --- snapshots ---

// Snapshot records the current aggregate and returns an identifier that can
// be passed to RevertToSnapshot.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, m.copyFrame())
	return len(m.snapshots) - 1
}

// RevertToSnapshot restores the aggregate recorded under id and drops it and
// any later snapshots.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	frame := m.snapshots[id]
	m.accounts = frame.accounts
	m.ledger = frame.ledger
	m.baseURI = frame.baseURI
	m.tokens = frame.tokens
	m.roles = frame.roles
	m.snapshots = m.snapshots[:id]
}

// DiscardSnapshot drops the snapshot recorded under id and any later ones
// without restoring state.
func (m *Manager) DiscardSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	m.snapshots = m.snapshots[:id]
}

func (m *Manager) copyFrame() *snapshotFrame {
	frame := &snapshotFrame{
		accounts: make(map[[20]byte]*types.Account, len(m.accounts)),
		ledger:   m.ledger.Clone(),
		baseURI:  m.baseURI,
		tokens:   make(map[uint64][20]byte, len(m.tokens)),
		roles:    make(map[string]map[[20]byte]bool, len(m.roles)),
	}
	for addr, acc := range m.accounts {
		frame.accounts[addr] = acc.Clone()
	}
	for id, owner := range m.tokens {
		frame.tokens[id] = owner
	}
	for role, members := range m.roles {
		copied := make(map[[20]byte]bool, len(members))
		for addr, ok := range members {
			copied[addr] = ok
		}
		frame.roles[role] = copied
	}
	return frame
}

// --- persistence ---

// Commit writes the aggregate to the backing database. Map contents are
// sorted before encoding so the stored records are deterministic.
func (m *Manager) Commit() error {
	if m.db == nil {
		return nil
	}
	accounts := make([]accountEntry, 0, len(m.accounts))
	for addr, acc := range m.accounts {
		balance := big.NewInt(0)
		if acc.Balance != nil {
			balance = new(big.Int).Set(acc.Balance)
		}
		accounts = append(accounts, accountEntry{Address: addr, Nonce: acc.Nonce, Balance: balance})
	}
	sort.Slice(accounts, func(i, j int) bool {
		return string(accounts[i].Address[:]) < string(accounts[j].Address[:])
	})
	encodedAccounts, err := rlp.EncodeToBytes(accounts)
	if err != nil {
		return fmt.Errorf("state: encode accounts: %w", err)
	}

	minted := make([]mintedEntry, 0, len(m.ledger.Minted))
	for buyer, count := range m.ledger.Minted {
		minted = append(minted, mintedEntry{Buyer: buyer, Count: count})
	}
	sort.Slice(minted, func(i, j int) bool {
		return string(minted[i].Buyer[:]) < string(minted[j].Buyer[:])
	})
	raised := big.NewInt(0)
	if m.ledger.TotalRaised != nil {
		raised = new(big.Int).Set(m.ledger.TotalRaised)
	}
	encodedLedger, err := rlp.EncodeToBytes(auctionRecord{
		TotalMinted:    m.ledger.TotalMinted,
		TotalRaised:    raised,
		Minted:         minted,
		AuthorityBound: m.ledger.AuthorityBound,
		Authority:      m.ledger.Authority,
	})
	if err != nil {
		return fmt.Errorf("state: encode auction ledger: %w", err)
	}

	tokens := make([]tokenEntry, 0, len(m.tokens))
	for id, owner := range m.tokens {
		tokens = append(tokens, tokenEntry{ID: id, Owner: owner})
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	encodedCollection, err := rlp.EncodeToBytes(collectionRecord{BaseURI: m.baseURI, Tokens: tokens})
	if err != nil {
		return fmt.Errorf("state: encode collection: %w", err)
	}

	roles := make([]roleEntry, 0, len(m.roles))
	for role, members := range m.roles {
		addrs := make([][20]byte, 0, len(members))
		for addr, ok := range members {
			if ok {
				addrs = append(addrs, addr)
			}
		}
		sort.Slice(addrs, func(i, j int) bool { return string(addrs[i][:]) < string(addrs[j][:]) })
		roles = append(roles, roleEntry{Role: role, Members: addrs})
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Role < roles[j].Role })
	encodedRoles, err := rlp.EncodeToBytes(roles)
	if err != nil {
		return fmt.Errorf("state: encode roles: %w", err)
	}

	if err := m.db.Put(accountsKey, encodedAccounts); err != nil {
		return err
	}
	if err := m.db.Put(auctionKey, encodedLedger); err != nil {
		return err
	}
	if err := m.db.Put(collectionKey, encodedCollection); err != nil {
		return err
	}
	return m.db.Put(rolesKey, encodedRoles)
}

func (m *Manager) load() error {
	if has, err := m.db.Has(accountsKey); err != nil {
		return err
	} else if has {
		raw, err := m.db.Get(accountsKey)
		if err != nil {
			return err
		}
		var accounts []accountEntry
		if err := rlp.DecodeBytes(raw, &accounts); err != nil {
			return fmt.Errorf("state: decode accounts: %w", err)
		}
		for _, entry := range accounts {
			m.accounts[entry.Address] = &types.Account{Nonce: entry.Nonce, Balance: entry.Balance}
		}
	}

	if has, err := m.db.Has(auctionKey); err != nil {
		return err
	} else if has {
		raw, err := m.db.Get(auctionKey)
		if err != nil {
			return err
		}
		var record auctionRecord
		if err := rlp.DecodeBytes(raw, &record); err != nil {
			return fmt.Errorf("state: decode auction ledger: %w", err)
		}
		ledger := auction.NewState()
		ledger.TotalMinted = record.TotalMinted
		if record.TotalRaised != nil {
			ledger.TotalRaised = record.TotalRaised
		}
		for _, entry := range record.Minted {
			ledger.Minted[entry.Buyer] = entry.Count
		}
		ledger.AuthorityBound = record.AuthorityBound
		ledger.Authority = record.Authority
		m.ledger = ledger
	}

	if has, err := m.db.Has(collectionKey); err != nil {
		return err
	} else if has {
		raw, err := m.db.Get(collectionKey)
		if err != nil {
			return err
		}
		var record collectionRecord
		if err := rlp.DecodeBytes(raw, &record); err != nil {
			return fmt.Errorf("state: decode collection: %w", err)
		}
		m.baseURI = record.BaseURI
		for _, entry := range record.Tokens {
			m.tokens[entry.ID] = entry.Owner
		}
	}

	if has, err := m.db.Has(rolesKey); err != nil {
		return err
	} else if has {
		raw, err := m.db.Get(rolesKey)
		if err != nil {
			return err
		}
		var roles []roleEntry
		if err := rlp.DecodeBytes(raw, &roles); err != nil {
			return fmt.Errorf("state: decode roles: %w", err)
		}
		for _, entry := range roles {
			for _, addr := range entry.Members {
				m.GrantRole(entry.Role, addr)
			}
		}
	}
	return nil
}
