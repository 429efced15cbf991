package custody

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/settlement"
)

var (
	settlementAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	vaultAddr      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	token          = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	alice          = common.HexToAddress("0x0000000000000000000000000000000000000011")
	bob            = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

func mustBalance(t *testing.T, b *Book, tok, holder common.Address) *big.Int {
	t.Helper()
	bal, err := b.BalanceOf(tok, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestBookMintAndTransfer(t *testing.T) {
	b := NewBook()
	b.Mint(token, alice, big.NewInt(100))

	if err := b.Transfer(token, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, b, token, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("alice = %s, want 60", got)
	}
	if got := mustBalance(t, b, token, bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("bob = %s, want 40", got)
	}
}

func TestBookTransferInsufficient(t *testing.T) {
	b := NewBook()
	b.Mint(token, alice, big.NewInt(10))

	err := b.Transfer(token, alice, bob, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	// No partial effect.
	if got := mustBalance(t, b, token, alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("alice = %s, want 10", got)
	}
}

func TestBookTransferNegative(t *testing.T) {
	b := NewBook()
	b.Mint(token, alice, big.NewInt(10))
	if err := b.Transfer(token, alice, bob, big.NewInt(-1)); err == nil {
		t.Error("negative transfer accepted")
	}
}

func TestBookSnapshotRestore(t *testing.T) {
	b := NewBook()
	b.Mint(token, alice, big.NewInt(100))

	restore := b.Snapshot()
	b.Transfer(token, alice, bob, big.NewInt(100))
	b.Mint(token, bob, big.NewInt(5))

	restore()

	if got := mustBalance(t, b, token, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice = %s, want restored 100", got)
	}
	if got := mustBalance(t, b, token, bob); got.Sign() != 0 {
		t.Errorf("bob = %s, want restored 0", got)
	}
}

func TestVaultRequiresApproval(t *testing.T) {
	b := NewBook()
	v := NewVault(vaultAddr, settlementAddr, b)
	b.Mint(token, alice, big.NewInt(100))

	err := v.TransferIn([]settlement.Transfer{{Owner: alice, Token: token, Amount: big.NewInt(50)}})
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want ErrNotApproved", err)
	}

	v.Approve(alice, token)
	if err := v.TransferIn([]settlement.Transfer{{Owner: alice, Token: token, Amount: big.NewInt(50)}}); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if got := mustBalance(t, b, token, settlementAddr); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("settlement = %s, want 50", got)
	}
}

func TestVaultTransferInAllOrNothing(t *testing.T) {
	b := NewBook()
	v := NewVault(vaultAddr, settlementAddr, b)
	b.Mint(token, alice, big.NewInt(100))
	v.Approve(alice, token)
	v.Approve(bob, token) // approved but unfunded

	err := v.TransferIn([]settlement.Transfer{
		{Owner: alice, Token: token, Amount: big.NewInt(50)},
		{Owner: bob, Token: token, Amount: big.NewInt(1)},
	})
	if err == nil {
		t.Fatal("expected failure on unfunded leg")
	}

	// The successful first leg rolled back.
	if got := mustBalance(t, b, token, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("alice = %s, want 100", got)
	}
	if got := mustBalance(t, b, token, settlementAddr); got.Sign() != 0 {
		t.Errorf("settlement = %s, want 0", got)
	}
}

func TestVaultTransferToTargets(t *testing.T) {
	b := NewBook()
	v := NewVault(vaultAddr, settlementAddr, b)
	b.Mint(token, alice, big.NewInt(100))
	v.Approve(alice, token)

	total, err := v.TransferToTargets(token, alice, []settlement.TargetTransfer{
		{Target: bob, Amount: big.NewInt(30)},
		{Target: settlementAddr, Amount: big.NewInt(20)},
	})
	if err != nil {
		t.Fatalf("transfer to targets: %v", err)
	}
	if total.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("total = %s, want 50", total)
	}
	if got := mustBalance(t, b, token, bob); got.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("bob = %s, want 30", got)
	}

	// Unapproved owner fails before any leg runs.
	if _, err := v.TransferToTargets(token, bob, []settlement.TargetTransfer{{Target: alice, Amount: big.NewInt(1)}}); !errors.Is(err, ErrNotApproved) {
		t.Errorf("err = %v, want ErrNotApproved", err)
	}
}

func TestVaultTransferToTargetsRollsBack(t *testing.T) {
	b := NewBook()
	v := NewVault(vaultAddr, settlementAddr, b)
	b.Mint(token, alice, big.NewInt(40))
	v.Approve(alice, token)

	_, err := v.TransferToTargets(token, alice, []settlement.TargetTransfer{
		{Target: bob, Amount: big.NewInt(30)},
		{Target: settlementAddr, Amount: big.NewInt(20)}, // exceeds remaining 10
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := mustBalance(t, b, token, alice); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("alice = %s, want 40", got)
	}
	if got := mustBalance(t, b, token, bob); got.Sign() != 0 {
		t.Errorf("bob = %s, want 0", got)
	}
}
