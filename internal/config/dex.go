// Package config also contains DEX-specific configuration surfaces.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// WrappedSOLMint is the mint used as the quote asset for every swap.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// Price sources for open-position monitoring.
const (
	PriceSourceJupiter     = "jupiter"
	PriceSourceDexScreener = "dexscreener"
)

// Dex defines network endpoints and defaults for decentralized execution.
type Dex struct {
	Chain       string `yaml:"chain"` // e.g. "solana"
	RpcURL      string `yaml:"rpc_url"`
	Commitment  string `yaml:"commitment"`   // processed|confirmed|finalized
	JupiterBase string `yaml:"jupiter_base"` // https://quote-api.jup.ag
	PriceBase   string `yaml:"price_base"`   // https://api.jup.ag
	PriceSource string `yaml:"price_source"` // jupiter|dexscreener
	QuoteMint   string `yaml:"quote_mint"`
}

// Wallet stores env-backed signing material metadata.
type Wallet struct {
	PrivateKeyBase58 string `yaml:"private_key_base58"`
}

// ApplyEnv overlays values from the environment (and a best-effort .env file).
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.Dex.RpcURL = getEnv("SOLANA_RPC_URL", c.Dex.RpcURL)
	c.Dex.JupiterBase = getEnv("JUPITER_BASE_URL", c.Dex.JupiterBase)
	c.Dex.Commitment = getEnv("SOLANA_COMMITMENT", c.Dex.Commitment)
	c.Wallet.PrivateKeyBase58 = getEnv("SOLANA_PRIVATE_KEY_BASE58", c.Wallet.PrivateKeyBase58)
	if v := os.Getenv("SNIPEBOT_PAPER"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Paper.Enabled = enabled
		}
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
