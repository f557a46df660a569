package core

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"dutchdrop/core/events"
	"dutchdrop/native/auction"
	"dutchdrop/storage"
)

const auctionStart int64 = 1_700_000_000

func testParams() auction.Config {
	return auction.Config{
		StartPrice: big.NewInt(1_000_000_000_000_000_000),
		EndPrice:   big.NewInt(100_000_000_000_000_000),
		StartTime:  auctionStart,
		EndTime:    auctionStart + 2*60*60,
		StepSize:   12 * 60,
	}
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func oneEther(multiple int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(multiple), big.NewInt(1_000_000_000_000_000_000))
}

var (
	operatorAddr = testAddress(0x11)
	buyerAddr    = testAddress(0x12)
)

type recordingEmitter struct {
	mu      sync.Mutex
	emitted []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, evt)
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emitted)
}

func newTestNode(t *testing.T, db storage.Database, bind bool) *Node {
	t.Helper()
	node, err := NewNode(db, testParams(), operatorAddr)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return auctionStart })
	if err := node.ApplyGenesis([]GenesisAlloc{{Address: buyerAddr, Balance: oneEther(10)}}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if bind {
		if err := node.BindIssuanceAuthority(operatorAddr, CollectionAddress); err != nil {
			t.Fatalf("bind authority: %v", err)
		}
	}
	return node
}

func TestPurchaseLifecycle(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)

	receipt, err := node.Purchase(buyerAddr, 3, oneEther(3))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.FirstTokenID != 1 {
		t.Fatalf("expected first id 1, got %d", receipt.FirstTokenID)
	}

	st, err := node.AuctionState()
	if err != nil {
		t.Fatalf("auction state: %v", err)
	}
	if st.TotalMinted != 3 || st.TotalRaised.Cmp(oneEther(3)) != 0 {
		t.Fatalf("unexpected ledger: %+v", st)
	}
	minted, _ := node.MintedBy(buyerAddr)
	if minted != 3 {
		t.Fatalf("expected 3 minted by buyer, got %d", minted)
	}
	for id := uint64(1); id <= 3; id++ {
		owner, err := node.OwnerOf(id)
		if err != nil {
			t.Fatalf("owner of %d: %v", id, err)
		}
		if owner != buyerAddr {
			t.Fatalf("item %d owned by wrong address", id)
		}
	}
	if node.CollectionTotalSupply() != 3 {
		t.Fatalf("expected supply 3, got %d", node.CollectionTotalSupply())
	}
	vault, _ := node.VaultBalance()
	if vault.Cmp(oneEther(3)) != 0 {
		t.Fatalf("expected vault balance 3e18, got %s", vault)
	}

	amount, err := node.WithdrawProceeds(operatorAddr)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(oneEther(3)) != 0 {
		t.Fatalf("expected withdrawal 3e18, got %s", amount)
	}
	operatorBal, _ := node.Balance(operatorAddr)
	if operatorBal.Cmp(oneEther(3)) != 0 {
		t.Fatalf("operator balance %s", operatorBal)
	}

	amount, err = node.WithdrawProceeds(operatorAddr)
	if err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("expected zero second withdrawal, got %s", amount)
	}
}

func TestPurchaseOverpaymentRefund(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)

	receipt, err := node.Purchase(buyerAddr, 3, oneEther(4))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Refund.Cmp(oneEther(1)) != 0 {
		t.Fatalf("expected refund 1e18, got %s", receipt.Refund)
	}
	buyerBal, _ := node.Balance(buyerAddr)
	if buyerBal.Cmp(oneEther(7)) != 0 {
		t.Fatalf("expected buyer balance 7e18, got %s", buyerBal)
	}
	st, _ := node.AuctionState()
	if st.TotalRaised.Cmp(oneEther(3)) != 0 {
		t.Fatalf("raised should be 3e18, got %s", st.TotalRaised)
	}
}

func TestPurchaseRejectionLeavesStateUntouched(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)

	payment := new(big.Int).Sub(oneEther(3), big.NewInt(1))
	if _, err := node.Purchase(buyerAddr, 3, payment); !errors.Is(err, auction.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	st, _ := node.AuctionState()
	if st.TotalMinted != 0 || st.TotalRaised.Sign() != 0 {
		t.Fatalf("rejection mutated ledger: %+v", st)
	}
	buyerBal, _ := node.Balance(buyerAddr)
	if buyerBal.Cmp(oneEther(10)) != 0 {
		t.Fatalf("rejection moved funds: %s", buyerBal)
	}
}

func TestPurchaseCaptureTransferFailure(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)

	// Payment covers the cost but exceeds the buyer's funded balance, so the
	// capture transfer itself fails after validation passed.
	if _, err := node.Purchase(buyerAddr, 4, oneEther(11)); err == nil {
		t.Fatal("expected capture transfer failure to abort the purchase")
	}
	st, _ := node.AuctionState()
	if st.TotalMinted != 0 || st.TotalRaised.Sign() != 0 {
		t.Fatalf("failed capture mutated ledger: %+v", st)
	}
	buyerBal, _ := node.Balance(buyerAddr)
	if buyerBal.Cmp(oneEther(10)) != 0 {
		t.Fatalf("failed capture moved funds: %s", buyerBal)
	}
	vault, _ := node.VaultBalance()
	if vault.Sign() != 0 {
		t.Fatalf("failed capture credited the vault: %s", vault)
	}
	if node.CollectionTotalSupply() != 0 {
		t.Fatal("no items should exist")
	}
}

func TestPurchaseRollsBackWhenAuthorityUnbound(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), false)

	_, err := node.Purchase(buyerAddr, 2, oneEther(2))
	if !errors.Is(err, auction.ErrAuthorityUnbound) {
		t.Fatalf("expected ErrAuthorityUnbound, got %v", err)
	}

	// The engine commits the ledger before delegation; the node must revert
	// that commit wholesale when delegation fails.
	st, _ := node.AuctionState()
	if st.TotalMinted != 0 || st.TotalRaised.Sign() != 0 {
		t.Fatalf("failed delegation left counters incremented: %+v", st)
	}
	buyerBal, _ := node.Balance(buyerAddr)
	if buyerBal.Cmp(oneEther(10)) != 0 {
		t.Fatalf("failed delegation kept the payment: %s", buyerBal)
	}
	vault, _ := node.VaultBalance()
	if vault.Sign() != 0 {
		t.Fatalf("failed delegation left the payment in the vault: %s", vault)
	}
	if node.CollectionTotalSupply() != 0 {
		t.Fatal("no items should exist")
	}
}

func TestBindIssuanceAuthorityOnce(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)

	err := node.BindIssuanceAuthority(operatorAddr, testAddress(0x55))
	if !errors.Is(err, auction.ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
	st, _ := node.AuctionState()
	if st.Authority != CollectionAddress {
		t.Fatal("second bind must leave the first binding intact")
	}

	if err := node.BindIssuanceAuthority(buyerAddr, testAddress(0x56)); !errors.Is(err, auction.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEventsPublishedOnlyOnCommit(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB(), true)
	emitter := &recordingEmitter{}
	node.SetEmitter(emitter)

	if _, err := node.Purchase(buyerAddr, 20, oneEther(20)); err == nil {
		t.Fatal("expected per-buyer cap rejection")
	}
	if emitter.count() != 0 {
		t.Fatalf("rejected purchase leaked %d events", emitter.count())
	}

	if _, err := node.Purchase(buyerAddr, 2, oneEther(2)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// One purchase record plus one minted record per item.
	if emitter.count() != 3 {
		t.Fatalf("expected 3 events, got %d", emitter.count())
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	node := newTestNode(t, db, true)
	if _, err := node.Purchase(buyerAddr, 3, oneEther(3)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	restored, err := NewNode(db, testParams(), operatorAddr)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored.SetNowFunc(func() int64 { return auctionStart })

	// Genesis is a no-op on restored state.
	if err := restored.ApplyGenesis([]GenesisAlloc{{Address: buyerAddr, Balance: oneEther(999)}}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	buyerBal, _ := restored.Balance(buyerAddr)
	if buyerBal.Cmp(oneEther(7)) != 0 {
		t.Fatalf("expected restored balance 7e18, got %s", buyerBal)
	}

	st, _ := restored.AuctionState()
	if st.TotalMinted != 3 || st.TotalRaised.Cmp(oneEther(3)) != 0 {
		t.Fatalf("ledger not restored: %+v", st)
	}
	owner, err := restored.OwnerOf(2)
	if err != nil || owner != buyerAddr {
		t.Fatalf("token ownership not restored: %v", err)
	}

	// The restored ledger keeps counting from where it left off.
	receipt, err := restored.Purchase(buyerAddr, 1, oneEther(1))
	if err != nil {
		t.Fatalf("purchase after restart: %v", err)
	}
	if receipt.FirstTokenID != 4 {
		t.Fatalf("expected next id 4, got %d", receipt.FirstTokenID)
	}
}

func TestConcurrentPurchasesSerialize(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), testParams(), operatorAddr)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return auctionStart })

	const buyers = 32
	allocs := make([]GenesisAlloc, buyers)
	addrs := make([][20]byte, buyers)
	for i := 0; i < buyers; i++ {
		addrs[i] = testAddress(byte(0x80 + i))
		allocs[i] = GenesisAlloc{Address: addrs[i], Balance: oneEther(4)}
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if err := node.BindIssuanceAuthority(operatorAddr, CollectionAddress); err != nil {
		t.Fatalf("bind authority: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(addr [20]byte) {
			defer wg.Done()
			if _, err := node.Purchase(addr, 4, oneEther(4)); err != nil {
				t.Errorf("purchase: %v", err)
			}
		}(addrs[i])
	}
	wg.Wait()

	st, _ := node.AuctionState()
	if st.TotalMinted != buyers*4 {
		t.Fatalf("expected %d minted, got %d", buyers*4, st.TotalMinted)
	}
	var sum uint64
	for _, count := range st.Minted {
		sum += count
	}
	if sum != st.TotalMinted {
		t.Fatalf("ledger out of balance: sum %d total %d", sum, st.TotalMinted)
	}
	if node.CollectionTotalSupply() != uint64(buyers*4) {
		t.Fatalf("expected %d items, got %d", buyers*4, node.CollectionTotalSupply())
	}
	// Sequential ids with no gaps or reuse.
	seen := make(map[[20]byte]uint64)
	for id := uint64(1); id <= uint64(buyers*4); id++ {
		owner, err := node.OwnerOf(id)
		if err != nil {
			t.Fatalf("missing id %d: %v", id, err)
		}
		seen[owner]++
	}
	for addr, count := range seen {
		if count != 4 {
			t.Fatalf("address %x owns %d items", addr, count)
		}
	}
}
