// Roho full node daemon.
//
// Usage:
//
//	rohod [--network=mainnet] [--mine --coinbase=RH...] Run a node
//	rohod --write-config                                Write a default config file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ranjeet-h/roho-rh-blockchain/config"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/chain"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/log"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/mempool"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/miner"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/p2p"
	"github.com/ranjeet-h/roho-rh-blockchain/internal/storage"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rohod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		networkFlag  = flag.String("network", string(config.Mainnet), "network to join (mainnet|testnet)")
		dataDirFlag  = flag.String("datadir", "", "data directory (default: platform-specific)")
		listenFlag   = flag.String("listen", "", "p2p listen address")
		portFlag     = flag.Int("port", 0, "p2p listen port")
		seedsFlag    = flag.String("seeds", "", "comma-separated seed peers (host:port)")
		maxPeersFlag = flag.Int("maxpeers", 0, "maximum peer connections")
		mineFlag     = flag.Bool("mine", false, "enable block production")
		coinbaseFlag = flag.String("coinbase", "", "address paid by mined coinbases")
		threadsFlag  = flag.Int("threads", 0, "mining worker threads")
		logLevelFlag = flag.String("loglevel", "", "log level (debug|info|warn|error)")
		writeConfig  = flag.Bool("write-config", false, "write a default config file and exit")
	)
	flag.Parse()

	cfg := config.Default(config.NetworkType(*networkFlag))
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	if *writeConfig {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return err
		}
		if err := config.WriteDefaultConfig(cfg.ConfigFile(), cfg.Network); err != nil {
			return err
		}
		fmt.Println("wrote", cfg.ConfigFile())
		return nil
	}

	fileValues, err := config.LoadFile(cfg.ConfigFile())
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if err := config.ApplyFileConfig(cfg, fileValues); err != nil {
		return err
	}

	// Command-line flags override the file.
	if *listenFlag != "" {
		cfg.P2P.ListenAddr = *listenFlag
	}
	if *portFlag != 0 {
		cfg.P2P.Port = *portFlag
	}
	if *seedsFlag != "" {
		cfg.P2P.Seeds = strings.Split(*seedsFlag, ",")
	}
	if *maxPeersFlag != 0 {
		cfg.P2P.MaxPeers = *maxPeersFlag
	}
	if *mineFlag {
		cfg.Mining.Enabled = true
	}
	if *coinbaseFlag != "" {
		cfg.Mining.Coinbase = *coinbaseFlag
	}
	if *threadsFlag != 0 {
		cfg.Mining.Threads = *threadsFlag
	}
	if *logLevelFlag != "" {
		cfg.Log.Level = *logLevelFlag
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.ChainDataDir(), 0755); err != nil {
		return err
	}
	logFile := cfg.Log.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return err
		}
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	log.Logger.Info().
		Str("network", string(cfg.Network)).
		Str("datadir", cfg.DataDir).
		Msg("rohod starting")

	db, err := storage.NewBadger(filepath.Join(cfg.ChainDataDir(), "chaindata"))
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer db.Close()

	chainState, err := chain.New(db, cfg.Network.ChainID(), log.Chain)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	if !chainState.HasGenesis() {
		if err := chainState.InitGenesis(); err != nil {
			return fmt.Errorf("initialize genesis: %w", err)
		}
	}
	log.Chain.Info().
		Uint64("height", chainState.Height()).
		Str("tip", chainState.TipHash().String()).
		Msg("chain loaded")

	pool := mempool.New(miner.NewUTXOAdapter(chainState.UTXOSet()), chainState, 0, log.Mempool)
	chainState.SetMempool(pool)

	var blockMiner *miner.Miner
	if cfg.Mining.Enabled {
		coinbaseHash, err := coinbaseTarget(cfg.Mining.Coinbase)
		if err != nil {
			return err
		}
		threads := cfg.Mining.Threads
		if threads <= 0 {
			threads = 1
		}
		blockMiner = miner.New(chainState, pool, coinbaseHash, threads)
	}

	// A typed-nil *miner.Miner must not reach the interface-valued
	// parameter, or the node's nil check stops guarding it.
	var minerCtl p2p.MinerControl
	if blockMiner != nil {
		minerCtl = blockMiner
	}
	node := p2p.NewNode(p2p.Config{
		ListenAddr: listenAddr(cfg),
		Seeds:      cfg.P2P.Seeds,
		MaxPeers:   cfg.P2P.MaxPeers,
	}, chainState, pool, minerCtl, log.P2P)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.P2P.Enabled {
		if err := node.Start(ctx); err != nil {
			return err
		}
	}

	if blockMiner != nil {
		go mineLoop(ctx, chainState, blockMiner, node)
	}

	// Block until shutdown is requested, then give in-flight applies a
	// moment to persist before tearing the stack down.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Logger.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	if blockMiner != nil {
		blockMiner.Stop()
	}
	if cfg.P2P.Enabled {
		node.Stop()
	}
	time.Sleep(200 * time.Millisecond)
	return nil
}

// mineLoop produces blocks until ctx is cancelled, applying each success
// locally and announcing it to peers.
func mineLoop(ctx context.Context, chainState *chain.Chain, m *miner.Miner, node *p2p.Node) {
	for ctx.Err() == nil {
		blk, err := m.ProduceBlockCtx(ctx)
		if errors.Is(err, miner.ErrInterrupted) {
			// A peer block changed the tip (or we're shutting down);
			// rebuild the template against the new state.
			continue
		}
		if err != nil {
			log.Miner.Error().Err(err).Msg("template assembly failed")
			time.Sleep(time.Second)
			continue
		}

		hash := blk.Hash()
		if err := chainState.ApplyBlock(blk); err != nil {
			// Lost the race against a peer-delivered block.
			log.Miner.Debug().Str("hash", hash.String()).Err(err).Msg("sealed block no longer extends tip")
			continue
		}
		log.Miner.Info().
			Uint64("height", chainState.Height()).
			Str("hash", hash.String()).
			Int("txs", len(blk.Transactions)).
			Msg("block mined")
		node.AnnounceBlock(hash)
	}
}

// coinbaseTarget parses the configured payout address into the 32-byte
// pubkey-hash form block outputs carry: the 20 address bytes in front,
// zero-filled behind.
func coinbaseTarget(addr string) (types.Hash, error) {
	if addr == "" {
		return types.Hash{}, fmt.Errorf("mining enabled but no coinbase address configured")
	}
	parsed, err := types.ParseAddress(addr)
	if err != nil {
		return types.Hash{}, fmt.Errorf("coinbase address: %w", err)
	}
	var h types.Hash
	copy(h[:], parsed.Bytes())
	return h, nil
}

func listenAddr(cfg *config.Config) string {
	if !cfg.P2P.Enabled || cfg.P2P.ListenAddr == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", cfg.P2P.ListenAddr, cfg.P2P.Port)
}
