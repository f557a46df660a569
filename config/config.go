package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dutchdrop/crypto"
	"dutchdrop/native/auction"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration. The [auction] block is the
// immutable AuctionConfig; the daemon refuses to start when it fails
// validation.
type Config struct {
	RPCAddress           string  `toml:"RPCAddress"`
	MetricsAddress       string  `toml:"MetricsAddress"`
	DataDir              string  `toml:"DataDir"`
	Env                  string  `toml:"Env"`
	OperatorKeystorePath string  `toml:"OperatorKeystorePath"`
	Auction              Auction `toml:"auction"`
	Genesis              Genesis `toml:"genesis"`
}

// Auction mirrors the construction parameters. Prices are decimal strings in
// the smallest native-currency unit; times are unix seconds.
type Auction struct {
	StartPrice string `toml:"StartPrice"`
	EndPrice   string `toml:"EndPrice"`
	StartTime  int64  `toml:"StartTime"`
	EndTime    int64  `toml:"EndTime"`
	StepSize   int64  `toml:"StepSize"`
	BaseURI    string `toml:"BaseURI"`
}

// Genesis lists balances seeded on a fresh data directory.
type Genesis struct {
	Alloc []Alloc `toml:"alloc"`
}

// Alloc seeds one address with a native balance.
type Alloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Load loads the configuration from the given path, creating a commented
// default alongside a fresh operator keystore when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dutchdrop-data"
	}
	if _, err := cfg.AuctionParams(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AuctionParams parses and validates the [auction] block.
func (c *Config) AuctionParams() (auction.Config, error) {
	start, err := parseAmount(c.Auction.StartPrice)
	if err != nil {
		return auction.Config{}, fmt.Errorf("config: invalid auction start price: %w", err)
	}
	end, err := parseAmount(c.Auction.EndPrice)
	if err != nil {
		return auction.Config{}, fmt.Errorf("config: invalid auction end price: %w", err)
	}
	params := auction.Config{
		StartPrice: start,
		EndPrice:   end,
		StartTime:  c.Auction.StartTime,
		EndTime:    c.Auction.EndTime,
		StepSize:   c.Auction.StepSize,
	}
	if err := params.Validate(); err != nil {
		return auction.Config{}, err
	}
	return params, nil
}

// GenesisAllocs parses the genesis allocation block into addresses and
// balances.
func (c *Config) GenesisAllocs() ([][20]byte, []*big.Int, error) {
	addrs := make([][20]byte, 0, len(c.Genesis.Alloc))
	balances := make([]*big.Int, 0, len(c.Genesis.Alloc))
	for _, alloc := range c.Genesis.Alloc {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, nil, fmt.Errorf("config: invalid genesis address %q: %w", alloc.Address, err)
		}
		balance, err := parseAmount(alloc.Balance)
		if err != nil {
			return nil, nil, fmt.Errorf("config: invalid genesis balance for %q: %w", alloc.Address, err)
		}
		var addr [20]byte
		copy(addr[:], decoded.Bytes())
		addrs = append(addrs, addr)
		balances = append(balances, balance)
	}
	return addrs, balances, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file with a two
// hour auction window opening immediately.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	cfg := &Config{
		RPCAddress:     ":8545",
		MetricsAddress: ":9464",
		DataDir:        "./dutchdrop-data",
		Env:            "dev",
		Auction: Auction{
			StartPrice: "1000000000000000000",
			EndPrice:   "100000000000000000",
			StartTime:  now,
			EndTime:    now + 2*60*60,
			StepSize:   12 * 60,
			BaseURI:    "",
		},
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
