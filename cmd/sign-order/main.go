// Command sign-order generates a keypair, signs a sample order under the
// configured EIP-712 domain and prints a trade payload ready to embed in
// a settlement submission.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/solverforge/settler/params"
	"github.com/solverforge/settler/pkg/api"
	"github.com/solverforge/settler/pkg/crypto"
	"github.com/solverforge/settler/pkg/order"
)

func main() {
	cfg := params.LoadFromEnv("")

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if pk := os.Getenv("PRIVATE_KEY"); pk != "" {
		signer, err = crypto.FromPrivateKeyHex(pk)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Create order
	validTo := uint32(time.Now().Add(time.Hour).Unix())
	o := &order.Order{
		SellToken:         common.HexToAddress("0x00000000000000000000000000000000000000A0"),
		BuyToken:          common.HexToAddress("0x00000000000000000000000000000000000000B0"),
		Receiver:          order.ReceiverOwner,
		SellAmount:        big.NewInt(100_000),
		BuyAmount:         big.NewInt(95_000),
		ValidTo:           validTo,
		FeeAmount:         big.NewInt(1_000),
		Kind:              order.Sell,
		PartiallyFillable: false,
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Sell: %s of %s\n", o.SellAmount, o.SellToken.Hex())
	fmt.Printf("  Buy (min): %s of %s\n", o.BuyAmount, o.BuyToken.Hex())
	fmt.Printf("  Fee: %s\n", o.FeeAmount)
	fmt.Printf("  Kind: %s\n", o.Kind)
	fmt.Printf("  Valid To: %d\n\n", o.ValidTo)

	// Step 3: Sign order with EIP-712
	orderSigner := crypto.NewOrderSigner(crypto.EIP712Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           cfg.Domain.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Domain.VerifyingContract),
	})
	signature, err := orderSigner.SignOrder(signer, o)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signature: 0x%x\n", signature)

	uid, err := orderSigner.UIDFor(o, signer.Address())
	if err != nil {
		fmt.Printf("Error computing uid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Order UID: %s\n\n", uid.Hex())

	// Step 4: Build the trade payload a solver embeds in a batch.
	// Token indices assume the batch token list [sellToken, buyToken].
	trade := api.TradePayload{
		SellTokenIndex: 0,
		BuyTokenIndex:  1,
		SellAmount:     o.SellAmount.String(),
		BuyAmount:      o.BuyAmount.String(),
		ValidTo:        o.ValidTo,
		FeeAmount:      o.FeeAmount.String(),
		Flags:          0, // sell, fill-or-kill, eip712
		Signature:      hexutil.Encode(signature),
	}

	tradeJSON, err := json.MarshalIndent(trade, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Trade (JSON, embed in batch payload):")
	fmt.Println(string(tradeJSON))
	fmt.Println()

	// Step 5: Verify signature round-trips
	digest, err := orderSigner.Digest(o)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	recovered, err := crypto.RecoverAddress(digest.Bytes(), signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if recovered != signer.Address() {
		fmt.Println("Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	fmt.Println("To submit, wrap the batch in a signed request:")
	fmt.Println("  POST http://localhost:8080/api/v1/settlements")
	fmt.Println("  Content-Type: application/json")
	fmt.Println(`  {"payload": <batch json>, "signature": "0x<solver sig over keccak256(payload)>"}`)
}
