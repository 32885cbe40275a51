package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/cohsim/mem/cache"
	"github.com/sarchlab/cohsim/mem/cache/replacement"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/geometry"
	"github.com/sarchlab/cohsim/mem/harness"
	"github.com/sarchlab/cohsim/mem/protocol"
)

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("invalid configuration")

// Config describes the simulated system.
type Config struct {
	Name          string          `yaml:"name"`
	Nodes         int             `yaml:"nodes"`
	Log2BlockSize int             `yaml:"log2_block_size"`
	MemoryLatency uint64          `yaml:"memory_latency"`
	MaxCycles     uint64          `yaml:"max_cycles"`
	Parallel      bool            `yaml:"parallel"`
	Banks         BanksConfig     `yaml:"banks"`
	Cache         CacheConfig     `yaml:"cache"`
	Directory     DirectoryConfig `yaml:"directory"`
	Protocol      ProtocolConfig  `yaml:"protocol"`
}

// BanksConfig splits the directory into address-interleaved banks.
type BanksConfig struct {
	Count        int    `yaml:"count"`
	Interleaving uint64 `yaml:"interleaving"`
}

// CacheConfig describes every private cache.
type CacheConfig struct {
	ByteSize      uint64 `yaml:"byte_size"`
	Associativity int    `yaml:"associativity"`
	Replacement   string `yaml:"replacement"`
}

// DirectoryConfig describes the directory of one bank.
type DirectoryConfig struct {
	Kind                string `yaml:"kind"`
	RegionSize          uint64 `yaml:"region_size"`
	Sets                int    `yaml:"sets"`
	Associativity       int    `yaml:"associativity"`
	VictimPolicy        string `yaml:"victim_policy"`
	EvictBuffer         int    `yaml:"evict_buffer"`
	EvictBufferReserved int    `yaml:"evict_buffer_reserved"`
}

// ProtocolConfig describes the protocol engine of one bank.
type ProtocolConfig struct {
	MAFSize           int  `yaml:"maf_size"`
	MAFReserved       int  `yaml:"maf_reserved"`
	InboundSize       int  `yaml:"inbound_size"`
	OutboundSize      int  `yaml:"outbound_size"`
	ForwardImpliesAck bool `yaml:"forward_implies_ack"`
}

// DefaultConfig returns a four-node system with two flat directory banks.
func DefaultConfig() Config {
	return Config{
		Name:          "cohsim",
		Nodes:         4,
		Log2BlockSize: 6,
		MemoryLatency: 10,
		MaxCycles:     10_000_000,
		Banks:         BanksConfig{Count: 2, Interleaving: 64},
		Cache: CacheConfig{
			ByteSize:      16 * 1024,
			Associativity: 4,
			Replacement:   replacement.LRU,
		},
		Directory: DirectoryConfig{
			Kind:          "flat",
			RegionSize:    1024,
			Sets:          1024,
			Associativity: 8,
			VictimPolicy:  directory.FewestSharers,
			EvictBuffer:   16,
		},
		Protocol: ProtocolConfig{
			MAFSize:      32,
			InboundSize:  16,
			OutboundSize: 16,
		},
	}
}

// LoadConfig reads a YAML configuration on top of the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file. An empty path returns the
// defaults.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return LoadConfig(f)
}

// ApplyEnv overrides fields from COHSIM_* variables.
func (c *Config) ApplyEnv(env map[string]string) error {
	ints := map[string]*int{
		"COHSIM_NODES":           &c.Nodes,
		"COHSIM_BANKS":           &c.Banks.Count,
		"COHSIM_DIRECTORY_SETS":  &c.Directory.Sets,
		"COHSIM_DIRECTORY_WAYS":  &c.Directory.Associativity,
		"COHSIM_MAF_SIZE":        &c.Protocol.MAFSize,
		"COHSIM_EVICT_BUFFER":    &c.Directory.EvictBuffer,
		"COHSIM_CACHE_WAYS":      &c.Cache.Associativity,
		"COHSIM_LOG2_BLOCK_SIZE": &c.Log2BlockSize,
	}

	for key, field := range ints {
		v, ok := env[key]
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrConfig, key, v)
		}

		*field = n
	}

	uints := map[string]*uint64{
		"COHSIM_MAX_CYCLES":     &c.MaxCycles,
		"COHSIM_MEMORY_LATENCY": &c.MemoryLatency,
		"COHSIM_CACHE_SIZE":     &c.Cache.ByteSize,
	}

	for key, field := range uints {
		v, ok := env[key]
		if !ok {
			continue
		}

		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrConfig, key, v)
		}

		*field = n
	}

	if v, ok := env["COHSIM_DIRECTORY"]; ok {
		c.Directory.Kind = v
	}

	if v, ok := env["COHSIM_PARALLEL"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: COHSIM_PARALLEL=%q", ErrConfig, v)
		}

		c.Parallel = b
	}

	return nil
}

// EnvFromOS collects the COHSIM_* variables of the process.
func EnvFromOS() map[string]string {
	env := make(map[string]string)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, "COHSIM_") {
			env[key] = value
		}
	}

	return env
}

// Validate reports the first problem that would make the builders panic.
func (c Config) Validate() error {
	blockSize := uint64(1) << c.Log2BlockSize

	checks := []struct {
		bad  bool
		what string
	}{
		{c.Nodes <= 0, "nodes must be positive"},
		{c.Log2BlockSize < 0 || c.Log2BlockSize > 20,
			"log2_block_size must be between 0 and 20"},
		{c.Banks.Count <= 0, "banks.count must be positive"},
		{!geometry.IsPowerOfTwo(c.Banks.Interleaving) ||
			c.Banks.Interleaving < blockSize,
			"banks.interleaving must be a power of two of at least a block"},
		{c.Cache.Associativity <= 0, "cache.associativity must be positive"},
		{c.Cache.ByteSize == 0 ||
			c.Cache.ByteSize%(blockSize*uint64(max(c.Cache.Associativity, 1))) != 0,
			"cache.byte_size must hold a whole number of sets"},
		{c.Cache.Replacement != replacement.LRU &&
			c.Cache.Replacement != replacement.PLRU,
			"cache.replacement must be lru or plru"},
		{c.Directory.Kind != "flat" && c.Directory.Kind != "region",
			"directory.kind must be flat or region"},
		{c.Directory.Kind == "region" &&
			(!geometry.IsPowerOfTwo(c.Directory.RegionSize) ||
				c.Directory.RegionSize < blockSize ||
				(c.Banks.Count > 1 &&
					c.Banks.Interleaving < c.Directory.RegionSize)),
			"directory.region_size must be a power of two between a block " +
				"and the bank interleaving"},
		{c.Directory.Sets <= 0 || c.Directory.Associativity <= 0,
			"directory.sets and directory.associativity must be positive"},
		{c.Directory.VictimPolicy != directory.FewestSharers &&
			c.Directory.VictimPolicy != directory.InvalidLRU,
			"directory.victim_policy must be fewest-sharers or invalid-lru"},
		{c.Directory.EvictBuffer <= c.Directory.EvictBufferReserved,
			"directory.evict_buffer must exceed its reservation"},
		{c.Protocol.MAFSize <= c.Protocol.MAFReserved,
			"protocol.maf_size must exceed its reservation"},
		{c.Protocol.OutboundSize < protocol.MaxOutPerProcess,
			fmt.Sprintf("protocol.outbound_size must be at least %d",
				protocol.MaxOutPerProcess)},
		{c.Protocol.InboundSize <= 0, "protocol.inbound_size must be positive"},
	}

	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("%w: %s", ErrConfig, check.what)
		}
	}

	return nil
}

// Builder turns the configuration into a system builder.
func (c Config) Builder() (harness.Builder, error) {
	err := c.Validate()
	if err != nil {
		return harness.Builder{}, err
	}

	dir := directory.MakeBuilder().
		WithNumSets(c.Directory.Sets).
		WithAssociativity(c.Directory.Associativity).
		WithVictimPolicy(c.Directory.VictimPolicy).
		WithEvictBufferSize(c.Directory.EvictBuffer,
			c.Directory.EvictBufferReserved)
	if c.Directory.Kind == "region" {
		dir = dir.WithRegion(c.Directory.RegionSize)
	}

	return harness.MakeBuilder().
		WithNumNodes(c.Nodes).
		WithBanks(c.Banks.Count, c.Banks.Interleaving).
		WithLog2BlockSize(c.Log2BlockSize).
		WithMemoryLatency(c.MemoryLatency).
		WithParallel(c.Parallel).
		WithCache(cache.MakeBuilder().
			WithByteSize(c.Cache.ByteSize).
			WithWayAssociativity(c.Cache.Associativity).
			WithReplaceStrategy(c.Cache.Replacement)).
		WithDirectory(dir).
		WithProtocol(protocol.MakeBuilder().
			WithMAFSize(c.Protocol.MAFSize, c.Protocol.MAFReserved).
			WithBufferSizes(c.Protocol.InboundSize, c.Protocol.OutboundSize).
			WithForwardImpliesAck(c.Protocol.ForwardImpliesAck)), nil
}
