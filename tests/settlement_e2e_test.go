package tests

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/crypto"
	"github.com/solverforge/settler/pkg/custody"
	"github.com/solverforge/settler/pkg/order"
	"github.com/solverforge/settler/pkg/settlement"
	"github.com/solverforge/settler/pkg/storage"
	"github.com/solverforge/settler/pkg/util"
)

// TestFullSettlementFlow wires the real stack end to end: EIP-712 signed
// orders, the Pebble fill ledger, the custody book/vault and the engine.
func TestFullSettlementFlow(t *testing.T) {
	now := uint32(1_000_000)

	selfAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	vaultAddr := common.HexToAddress("0x0000000000000000000000000000000000000002")
	solver := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000A0")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000B0")

	ledger, err := storage.NewPebbleLedger(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	book := custody.NewBook()
	vault := custody.NewVault(vaultAddr, selfAddr, book)

	orderSigner := crypto.NewOrderSigner(crypto.EIP712Domain{
		Name:    "SolverForge Settlement",
		Version: "1",
		ChainID: big.NewInt(1337),
	})

	engine := settlement.NewEngine(settlement.Config{
		Self:          selfAddr,
		Authenticator: settlement.NewAllowList(solver),
		Custody:       vault,
		Tokens:        book,
		Ledger:        ledger,
		Verifier:      settlement.NewVerifier(orderSigner, nil, ledger),
		Clock:         util.FixedClock{T: time.Unix(int64(now), 0)},
	})

	// Two traders on opposite sides of the A/B market.
	aliceKey, _ := crypto.GenerateKey()
	bobKey, _ := crypto.GenerateKey()
	alice := aliceKey.Address()
	bob := bobKey.Address()

	for _, setup := range []struct {
		tok   common.Address
		owner common.Address
	}{
		{tokenA, alice},
		{tokenB, bob},
	} {
		book.Mint(setup.tok, setup.owner, big.NewInt(10_000))
		vault.Approve(setup.owner, setup.tok)
	}

	tokens := []common.Address{tokenA, tokenB}

	// Alice sells 100 A for at least 200 B; Bob sells 200 B for at
	// least 100 A. Clearing prices {A: 2, B: 1} satisfy both exactly.
	aliceTrade := signTrade(t, orderSigner, aliceKey, settlement.Trade{
		SellTokenIndex: 0,
		BuyTokenIndex:  1,
		SellAmount:     big.NewInt(100),
		BuyAmount:      big.NewInt(200),
		ValidTo:        now + 3600,
		FeeAmount:      big.NewInt(1),
		Flags:          settlement.EncodeFlags(order.Sell, false, settlement.SchemeEIP712),
	}, tokens)
	bobTrade := signTrade(t, orderSigner, bobKey, settlement.Trade{
		SellTokenIndex: 1,
		BuyTokenIndex:  0,
		SellAmount:     big.NewInt(200),
		BuyAmount:      big.NewInt(100),
		ValidTo:        now + 3600,
		FeeAmount:      big.NewInt(2),
		Flags:          settlement.EncodeFlags(order.Sell, false, settlement.SchemeEthSign),
	}, tokens)

	batch := settlement.Batch{
		Tokens:         tokens,
		ClearingPrices: []*big.Int{big.NewInt(2), big.NewInt(1)},
		Trades:         []settlement.Trade{aliceTrade, bobTrade},
	}

	if err := engine.Settle(solver, batch); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Alice: -100 A -1 fee, +200 B. Bob: -200 B -2 fee, +100 A.
	checkBalance(t, book, tokenA, alice, 9_899)
	checkBalance(t, book, tokenB, alice, 200)
	checkBalance(t, book, tokenB, bob, 9_798)
	checkBalance(t, book, tokenA, bob, 100)
	// Settlement holding keeps the fees.
	checkBalance(t, book, tokenA, selfAddr, 1)
	checkBalance(t, book, tokenB, selfAddr, 2)

	// Replaying the same batch overfills both orders.
	if err := engine.Settle(solver, batch); !errors.Is(err, settlement.ErrOrderOverfilled) {
		t.Errorf("replay err = %v, want ErrOrderOverfilled", err)
	}

	// Fill state survives a ledger reopen.
	o, _ := aliceTrade.OrderData(tokens)
	uid, _ := orderSigner.UIDFor(&o, alice)
	filled, err := ledger.Filled(uid)
	if err != nil {
		t.Fatalf("filled: %v", err)
	}
	if filled.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("filled = %s, want 100", filled)
	}
}

// TestSwapAgainstPool runs the fast path against a pool simulated with an
// interaction handler.
func TestSwapAgainstPool(t *testing.T) {
	now := uint32(1_000_000)

	selfAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	vaultAddr := common.HexToAddress("0x0000000000000000000000000000000000000002")
	solver := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	pool := common.HexToAddress("0x00000000000000000000000000000000000000F1")
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000A0")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000B0")

	ledger, err := storage.NewPebbleLedger(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	book := custody.NewBook()
	vault := custody.NewVault(vaultAddr, selfAddr, book)

	orderSigner := crypto.NewOrderSigner(crypto.EIP712Domain{
		Name:    "SolverForge Settlement",
		Version: "1",
		ChainID: big.NewInt(1337),
	})

	aliceKey, _ := crypto.GenerateKey()
	alice := aliceKey.Address()
	book.Mint(tokenA, alice, big.NewInt(1_000))
	book.Mint(tokenB, pool, big.NewInt(1_000))
	vault.Approve(alice, tokenA)

	// The pool hands over 200 B to whoever calls it.
	caller := settlement.ExternalCallerFunc(func(target common.Address, value *big.Int, data []byte) error {
		return book.Transfer(tokenB, pool, alice, big.NewInt(200))
	})

	engine := settlement.NewEngine(settlement.Config{
		Self:          selfAddr,
		Authenticator: settlement.NewAllowList(solver),
		Custody:       vault,
		Tokens:        book,
		Ledger:        ledger,
		Verifier:      settlement.NewVerifier(orderSigner, nil, ledger),
		Caller:        caller,
		Clock:         util.FixedClock{T: time.Unix(int64(now), 0)},
	})

	tokens := []common.Address{tokenA, tokenB}
	trade := signTrade(t, orderSigner, aliceKey, settlement.Trade{
		SellTokenIndex: 0,
		BuyTokenIndex:  1,
		SellAmount:     big.NewInt(100),
		BuyAmount:      big.NewInt(200),
		ValidTo:        now + 3600,
		FeeAmount:      big.NewInt(1),
		Flags:          settlement.EncodeFlags(order.Sell, false, settlement.SchemeEIP712),
	}, tokens)

	req := settlement.SwapRequest{
		Tokens:       tokens,
		Trade:        trade,
		Transfers:    []settlement.TargetTransfer{{Target: pool, Amount: big.NewInt(101)}},
		Interactions: []settlement.Interaction{{Target: pool, CallData: []byte("swap")}},
	}

	if err := engine.Swap(solver, req); err != nil {
		t.Fatalf("swap: %v", err)
	}

	checkBalance(t, book, tokenA, alice, 899)
	checkBalance(t, book, tokenB, alice, 200)
	checkBalance(t, book, tokenA, pool, 101)
	checkBalance(t, book, tokenB, pool, 800)
}

func signTrade(t *testing.T, os *crypto.OrderSigner, key *crypto.Signer, trade settlement.Trade, tokens []common.Address) settlement.Trade {
	t.Helper()
	o, err := trade.OrderData(tokens)
	if err != nil {
		t.Fatalf("order data: %v", err)
	}
	switch trade.Scheme() {
	case settlement.SchemeEthSign:
		trade.Signature, err = os.SignOrderEthSign(key, &o)
	default:
		trade.Signature, err = os.SignOrder(key, &o)
	}
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return trade
}

func checkBalance(t *testing.T, book *custody.Book, token, holder common.Address, want int64) {
	t.Helper()
	got, err := book.BalanceOf(token, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Errorf("balance of %s in %s = %s, want %d", holder.Hex(), token.Hex(), got, want)
	}
}
