package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solverforge/settler/params"
	"github.com/solverforge/settler/pkg/api"
	"github.com/solverforge/settler/pkg/crypto"
	"github.com/solverforge/settler/pkg/custody"
	"github.com/solverforge/settler/pkg/relay"
	"github.com/solverforge/settler/pkg/settlement"
	"github.com/solverforge/settler/pkg/storage"
	"github.com/solverforge/settler/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/settler.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Fill ledger (Pebble) ----
	ledger, err := storage.NewPebbleLedger(cfg.Node.LedgerPath)
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "path", cfg.Node.LedgerPath, "err", err)
	}
	defer ledger.Close()

	// ---- Custody simulation ----
	// Settlement holding and vault get fixed addresses on the devnet.
	// A production deployment points these at real token custody.
	selfAddr := envAddress("SETTLEMENT_ADDR", "0x0000000000000000000000000000000000000001")
	vaultAddr := envAddress("VAULT_ADDR", "0x0000000000000000000000000000000000000002")

	book := custody.NewBook()
	vault := custody.NewVault(vaultAddr, selfAddr, book)

	if os.Getenv("DEVNET") == "true" {
		seedDevnet(book, vault, sugar)
	}

	// ---- Signing domain and verifier ----
	signer := crypto.NewOrderSigner(crypto.EIP712Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           cfg.Domain.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Domain.VerifyingContract),
	})
	verifier := settlement.NewVerifier(signer, nil, ledger)

	// ---- Solver allow list ----
	var solvers []common.Address
	for _, s := range cfg.Solvers {
		if !common.IsHexAddress(s) {
			sugar.Fatalw("invalid_solver_address", "addr", s)
		}
		solvers = append(solvers, common.HexToAddress(s))
	}
	if len(solvers) == 0 {
		sugar.Warn("no solvers configured - every settlement will be rejected (set SOLVERS)")
	}

	engine := settlement.NewEngine(settlement.Config{
		Self:          selfAddr,
		Authenticator: settlement.NewAllowList(solvers...),
		Custody:       vault,
		Tokens:        book,
		Ledger:        ledger,
		Verifier:      verifier,
		Logger:        sugar,
	})
	sugar.Warn("no interaction host wired - batches carrying interactions will be rejected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Event sinks ----
	apiServer := api.NewServer(engine)

	sinks := settlement.MultiSink{
		settlement.LogSink{Log: sugar},
		apiServer,
	}

	if cfg.Node.AuditLogPath != "" {
		audit, err := storage.NewAuditLog(cfg.Node.AuditLogPath)
		if err != nil {
			sugar.Fatalw("audit_log_open_failed", "path", cfg.Node.AuditLogPath, "err", err)
		}
		defer audit.Close()
		sinks = append(sinks, audit)
	}

	if cfg.Node.RelayEnabled {
		r, err := relay.New(ctx, relay.Config{
			ListenAddr: cfg.Node.RelayListen,
			Bootstrap:  bootstrapAddrs(),
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("relay_init_failed", "err", err)
		}
		defer r.Close()
		sinks = append(sinks, r)
	}

	engine.SetSink(sinks)

	// ---- API Server ----
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("settler_running",
		"domain", cfg.Domain.Name,
		"chain_id", cfg.Domain.ChainID.String(),
		"solvers", len(solvers),
		"relay", cfg.Node.RelayEnabled)

	<-ctx.Done()
	sugar.Info("shutting down")
}

func envAddress(key, fallback string) common.Address {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	if !common.IsHexAddress(v) {
		log.Fatalf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v)
}

func bootstrapAddrs() []string {
	var out []string
	for _, s := range strings.Split(os.Getenv("RELAY_BOOTSTRAP"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// seedDevnet funds demo accounts with two test tokens and grants the
// vault pull rights, so signed batches settle out of the box.
// Accounts come from DEVNET_ACCOUNTS (comma-separated hex addresses).
func seedDevnet(book *custody.Book, vault *custody.Vault, sugar *zap.SugaredLogger) {
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000A0")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000B0")
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

	for _, s := range strings.Split(os.Getenv("DEVNET_ACCOUNTS"), ",") {
		s = strings.TrimSpace(s)
		if s == "" || !common.IsHexAddress(s) {
			continue
		}
		owner := common.HexToAddress(s)
		for _, token := range []common.Address{tokenA, tokenB} {
			book.Mint(token, owner, amount)
			vault.Approve(owner, token)
		}
		sugar.Infow("devnet_account_funded", "owner", owner.Hex(), "amount", amount.String())
	}
}
