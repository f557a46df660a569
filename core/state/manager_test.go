package state

import (
	"math/big"
	"testing"

	"dutchdrop/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestTransferRejectsOverdraft(t *testing.T) {
	m, err := NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	from := testAddress(0x01)
	to := testAddress(0x02)
	if err := m.Credit(from, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Transfer(from, to, big.NewInt(101)); err == nil {
		t.Fatal("expected overdraft rejection")
	}
	if err := m.Transfer(from, to, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fromBal, _ := m.BalanceOf(from)
	toBal, _ := m.BalanceOf(to)
	if fromBal.Int64() != 40 || toBal.Int64() != 60 {
		t.Fatalf("balances %s/%s", fromBal, toBal)
	}
}

func TestSnapshotRevert(t *testing.T) {
	m, err := NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	addr := testAddress(0x03)
	if err := m.Credit(addr, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	ledger, _ := m.AuctionState()
	ledger.TotalMinted = 7
	if err := m.SetAuctionState(ledger); err != nil {
		t.Fatalf("set ledger: %v", err)
	}

	snap := m.Snapshot()
	if err := m.Transfer(addr, testAddress(0x04), big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	ledger, _ = m.AuctionState()
	ledger.TotalMinted = 99
	ledger.AuthorityBound = true
	_ = m.SetAuctionState(ledger)
	if err := m.TokenPut(1, addr); err != nil {
		t.Fatalf("token put: %v", err)
	}
	m.GrantRole("ROLE_MINTER", addr)

	m.RevertToSnapshot(snap)

	bal, _ := m.BalanceOf(addr)
	if bal.Int64() != 500 {
		t.Fatalf("balance not reverted: %s", bal)
	}
	ledger, _ = m.AuctionState()
	if ledger.TotalMinted != 7 || ledger.AuthorityBound {
		t.Fatalf("ledger not reverted: %+v", ledger)
	}
	if _, ok := m.TokenGet(1); ok {
		t.Fatal("token survived revert")
	}
	if m.HasRole("ROLE_MINTER", addr) {
		t.Fatal("role grant survived revert")
	}
}

func TestSnapshotDiscard(t *testing.T) {
	m, err := NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	addr := testAddress(0x05)
	snap := m.Snapshot()
	if err := m.Credit(addr, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	m.DiscardSnapshot(snap)
	bal, _ := m.BalanceOf(addr)
	if bal.Int64() != 10 {
		t.Fatalf("discard must keep mutations, balance %s", bal)
	}
}

func TestCommitAndReload(t *testing.T) {
	db := storage.NewMemDB()
	m, err := NewManager(db)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	fresh, err := m.Fresh()
	if err != nil || !fresh {
		t.Fatalf("expected fresh manager, got fresh=%v err=%v", fresh, err)
	}

	buyer := testAddress(0x06)
	authority := testAddress(0x07)
	if err := m.Credit(buyer, big.NewInt(12345)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	ledger, _ := m.AuctionState()
	ledger.TotalMinted = 3
	ledger.TotalRaised = big.NewInt(999)
	ledger.Minted[buyer] = 3
	ledger.AuthorityBound = true
	ledger.Authority = authority
	if err := m.SetAuctionState(ledger); err != nil {
		t.Fatalf("set ledger: %v", err)
	}
	if err := m.TokenPut(1, buyer); err != nil {
		t.Fatalf("token put: %v", err)
	}
	if err := m.SetBaseURI("ipfs://drop/"); err != nil {
		t.Fatalf("set base uri: %v", err)
	}
	m.GrantRole("ROLE_MINTER", authority)
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	restored, err := NewManager(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	fresh, _ = restored.Fresh()
	if fresh {
		t.Fatal("restored manager should not be fresh")
	}
	bal, _ := restored.BalanceOf(buyer)
	if bal.Int64() != 12345 {
		t.Fatalf("balance not restored: %s", bal)
	}
	ledger, _ = restored.AuctionState()
	if ledger.TotalMinted != 3 || ledger.TotalRaised.Int64() != 999 {
		t.Fatalf("ledger not restored: %+v", ledger)
	}
	if !ledger.AuthorityBound || ledger.Authority != authority {
		t.Fatalf("authority binding not restored: %+v", ledger)
	}
	if ledger.Minted[buyer] != 3 {
		t.Fatalf("per-buyer count not restored")
	}
	owner, ok := restored.TokenGet(1)
	if !ok || owner != buyer {
		t.Fatalf("token not restored")
	}
	if restored.BaseURI() != "ipfs://drop/" {
		t.Fatalf("base uri not restored: %q", restored.BaseURI())
	}
	if !restored.HasRole("ROLE_MINTER", authority) {
		t.Fatal("role grant not restored")
	}
}
