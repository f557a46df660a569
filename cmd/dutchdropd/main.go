package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dutchdrop/config"
	"dutchdrop/core"
	"dutchdrop/crypto"
	"dutchdrop/observability/logging"
	"dutchdrop/rpc"
	"dutchdrop/storage"
)

const operatorPassEnv = "DUTCHDROP_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	ephemeral := flag.Bool("ephemeral", false, "DEV ONLY: run against an in-memory database")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DUTCHDROP_ENV"))
	logger := logging.Setup("dutchdropd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Env
	}

	operatorKey, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, os.Getenv(operatorPassEnv))
	if err != nil {
		logger.Error("Failed to load operator keystore", slog.Any("error", err))
		os.Exit(1)
	}
	var operator [20]byte
	copy(operator[:], operatorKey.PubKey().Address().Bytes())

	var db storage.Database
	if *ephemeral {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	params, err := cfg.AuctionParams()
	if err != nil {
		logger.Error("Invalid auction parameters", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db, params, operator)
	if err != nil {
		logger.Error("Failed to construct node", slog.Any("error", err))
		os.Exit(1)
	}

	addrs, balances, err := cfg.GenesisAllocs()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	allocs := make([]core.GenesisAlloc, len(addrs))
	for i := range addrs {
		allocs[i] = core.GenesisAlloc{Address: addrs[i], Balance: balances[i]}
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	// Bind the collection registry as issuance authority on first boot. The
	// once-only rule makes this a no-op on every later start.
	if err := node.BindIssuanceAuthority(operator, core.CollectionAddress); err != nil {
		logger.Info("Issuance authority binding skipped", slog.Any("reason", err))
	}
	if cfg.Auction.BaseURI != "" {
		if err := node.SetCollectionBaseURI(operator, cfg.Auction.BaseURI); err != nil {
			logger.Warn("Failed to set collection base URI", slog.Any("error", err))
		}
	}

	if strings.TrimSpace(cfg.MetricsAddress) != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("Metrics server listening", slog.String("address", cfg.MetricsAddress))
	}

	server := rpc.NewServer(node)
	go func() {
		logger.Info("JSON-RPC server listening", slog.String("address", cfg.RPCAddress))
		if err := server.Start(cfg.RPCAddress); err != nil {
			logger.Error("RPC server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	logger.Info("Auction node started",
		slog.String("operator", operatorKey.PubKey().Address().String()),
		slog.Int64("startTime", params.StartTime),
		slog.Int64("endTime", params.EndTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")
}
