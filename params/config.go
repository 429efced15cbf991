package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Domain is the EIP-712 domain-separation context all orders are bound to.
// Changing any field invalidates every outstanding signature, which is the
// point: orders signed for one deployment must not replay against another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string // hex address; zero for off-chain deployments
}

type Node struct {
	// LedgerPath is the Pebble directory holding fill amounts and
	// pre-signature records.
	LedgerPath string
	APIAddr    string
	// AuditLogPath receives one JSON line per emitted settlement event.
	// Empty disables the audit log.
	AuditLogPath string

	RelayEnabled bool
	RelayListen  string
}

type Config struct {
	Domain Domain
	Node   Node
	// Solvers is the allow list of addresses permitted to submit
	// settlements. Hex-encoded, case-insensitive.
	Solvers []string
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:              "SolverForge Settlement",
			Version:           "1",
			ChainID:           big.NewInt(1337),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Node: Node{
			LedgerPath:   "data/ledger",
			APIAddr:      ":8080",
			AuditLogPath: "data/settlements.log",
			RelayEnabled: false,
			RelayListen:  "",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DOMAIN_NAME"); v != "" {
		cfg.Domain.Name = v
	}
	if v := os.Getenv("DOMAIN_VERSION"); v != "" {
		cfg.Domain.Version = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Domain.ChainID = big.NewInt(id)
		}
	}
	if v := os.Getenv("VERIFYING_CONTRACT"); v != "" {
		cfg.Domain.VerifyingContract = v
	}

	if v := os.Getenv("LEDGER_PATH"); v != "" {
		cfg.Node.LedgerPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("AUDIT_LOG"); v != "" {
		cfg.Node.AuditLogPath = v
	}
	if v := os.Getenv("RELAY_ENABLED"); v != "" {
		cfg.Node.RelayEnabled = v == "true"
	}
	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		cfg.Node.RelayListen = v
	}

	// Comma-separated solver allow list, e.g. "0xabc...,0xdef..."
	if v := os.Getenv("SOLVERS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Solvers = append(cfg.Solvers, s)
			}
		}
	}

	return cfg
}
