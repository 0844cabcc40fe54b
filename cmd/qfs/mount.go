package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantumfs/quantumfs/internal/config"
	"github.com/quantumfs/quantumfs/internal/fusebridge"
	"github.com/quantumfs/quantumfs/internal/manifest"
	"github.com/quantumfs/quantumfs/internal/objectcache"
	"github.com/quantumfs/quantumfs/internal/objectstore/ipfs"
	"github.com/quantumfs/quantumfs/internal/revision"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount a QuantumFS revision read-only over FUSE",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

// mountFlags are bound into viper so that, per spec.md §6, each one
// may equally be set by the matching QFS_-prefixed environment
// variable (viper.AutomaticEnv, keyed through the "-" -> "_" replacer
// set up in main.go's init) without duplicating that precedence logic
// here — the flag wins if both are set, since cobra's pflag value is
// what viper consults first.
var mountFlags = []string{"address", "contract", "mountpoint", "web3", "ipfs-server", "ipfs-port"}

func init() {
	mountCmd.Flags().String("address", "", "client account address whose revision to mount (0x-prefixed)")
	mountCmd.Flags().String("contract", "", "trust-anchor contract address (0x-prefixed)")
	mountCmd.Flags().String("mountpoint", "", "directory to mount at (overrides the positional argument)")
	mountCmd.Flags().String("web3", "", "Web3 JSON-RPC endpoint for the trust-anchor contract")
	mountCmd.Flags().String("ipfs-server", "", "IPFS HTTP API host")
	mountCmd.Flags().Int("ipfs-port", 0, "IPFS HTTP API port")

	for _, name := range mountFlags {
		_ = viper.BindPFlag(name, mountCmd.Flags().Lookup(name))
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	if v := viper.GetString("mountpoint"); v != "" {
		cfg.Mount.MountPoint = v
	} else if len(args) == 1 {
		cfg.Mount.MountPoint = args[0]
	}
	if v := viper.GetString("web3"); v != "" {
		cfg.Manifest.Web3Endpoint = v
	}
	if v := viper.GetString("contract"); v != "" {
		cfg.Manifest.Contract = v
	}
	if v := viper.GetString("address"); v != "" {
		cfg.Manifest.Address = v
	}
	if v := viper.GetString("ipfs-server"); v != "" {
		cfg.Store.IPFSServer = v
	}
	if v := viper.GetInt("ipfs-port"); v != 0 {
		cfg.Store.IPFSPort = v
	}

	if cfg.Mount.MountPoint == "" {
		return fmt.Errorf("mount point required: pass it as an argument or --mountpoint")
	}

	logger := newLogger(cfg.Global.LogLevel)

	store := ipfs.NewClient(ipfs.Config{
		Server:     cfg.Store.IPFSServer,
		Port:       cfg.Store.IPFSPort,
		Timeout:    cfg.Store.Timeout,
		MaxRetries: cfg.Store.MaxRetries,
	}, logger)

	if err := os.MkdirAll(cfg.Global.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	cache := objectcache.New(cfg.Global.DataDir, store)

	rev, err := resolveRevision(cmd.Context(), cfg, store, cache, logger)
	if err != nil {
		return err
	}
	defer rev.Close()

	metrics := fusebridge.NewMetrics(prometheus.DefaultRegisterer)
	bridge := fusebridge.New(rev, logger, metrics)
	manager := fusebridge.NewMountManager(bridge, cfg.Mount, logger)

	if err := manager.Mount(); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, unmounting", "mount_point", cfg.Mount.MountPoint)
		if err := manager.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	manager.Wait()
	return nil
}

// resolveRevision asks the trust-anchor contract for client's current
// RevisionTag (or opens a brand-new genesis revision if none has been
// published yet) and binds a revision.Revision to it.
func resolveRevision(ctx context.Context, cfg *config.Configuration, store *ipfs.Client, cache *objectcache.Cache, logger *slog.Logger) (*revision.Revision, error) {
	repo := revision.NewRepository(store, cache)

	if cfg.Manifest.Web3Endpoint == "" || cfg.Manifest.Contract == "" || cfg.Manifest.Address == "" {
		logger.Warn("manifest oracle not configured, mounting a fresh genesis revision")
		return repo.Genesis()
	}

	if !common.IsHexAddress(cfg.Manifest.Contract) {
		return nil, fmt.Errorf("invalid --contract address %q", cfg.Manifest.Contract)
	}
	if !common.IsHexAddress(cfg.Manifest.Address) {
		return nil, fmt.Errorf("invalid --address %q", cfg.Manifest.Address)
	}

	oracle, err := manifest.Dial(cfg.Manifest.Web3Endpoint, common.HexToAddress(cfg.Manifest.Contract))
	if err != nil {
		return nil, fmt.Errorf("dial trust anchor: %w", err)
	}
	defer oracle.Close()

	tag, err := oracle.Current(ctx, common.HexToAddress(cfg.Manifest.Address))
	if err != nil {
		return nil, fmt.Errorf("query current revision: %w", err)
	}
	if tag.IsGenesis() {
		return repo.Genesis()
	}

	return repo.Open(revision.RevisionTag{
		RootCatalogHash: *tag.RootHash,
		RevisionNumber:  revisionNumberOrZero(tag.RevisionNumber),
	}), nil
}

func revisionNumberOrZero(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}
