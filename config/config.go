// Package config is the viper-backed tunable loader (SPEC_FULL.md §6):
// every named constant spec.md calls out (HashSteps, HashCPS,
// ChunksLoopPeriod, OPERATIONS_DELAY_INIT, OPERATIONS_DELAY_DISCONNECT,
// ENDANGERED_CHUNKS_PRIORITY, MaxWriteRepl, ACCEPTABLE_DIFFERENCE,
// CSSERV_TIMEOUT, the bandwidth-limiter rate) is a field here, loadable
// from a config file or environment variables (LFS_ prefix), following the
// pack's viper-based config repos. The cmd/ packages pass only the config
// file path; they bind no tunable to a flag.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/internal/chunkworker"
	"github.com/lizardfs/lizardfs-sub006/internal/master"
)

// Config is the union of every daemon's tunables; cmd/master and
// cmd/chunkserver each read only the sections relevant to them.
type Config struct {
	Master     MasterConfig     `mapstructure:"master"`
	Chunkserver ChunkserverConfig `mapstructure:"chunkserver"`
}

// MasterConfig mirrors internal/master.Config and internal/chunkworker.Config
// with durations expressed as plain seconds, the shape config files and
// flags actually carry.
type MasterConfig struct {
	ListenAddr                   string  `mapstructure:"listen_addr"`
	ClientListenAddr             string  `mapstructure:"client_listen_addr"`
	SessionsPath                 string  `mapstructure:"sessions_path"`
	CredCap                      int     `mapstructure:"cred_cap"`
	CSServTimeoutSeconds         int     `mapstructure:"cs_serv_timeout_seconds"`
	LockTimeoutSeconds           int     `mapstructure:"lock_timeout_seconds"`
	HashSteps                    int     `mapstructure:"hash_steps"`
	HashCPS                      int     `mapstructure:"hash_cps"`
	EndangeredChunksPriority     int     `mapstructure:"endangered_chunks_priority"`
	ChunksLoopPeriodSeconds      int     `mapstructure:"chunks_loop_period_seconds"`
	OperationsDelayInitSeconds   int     `mapstructure:"operations_delay_init_seconds"`
	OperationsDelayDiscSeconds   int     `mapstructure:"operations_delay_disconnect_seconds"`
	DeleteBudgetSoft             int     `mapstructure:"delete_budget_soft"`
	DeleteBudgetHard             int     `mapstructure:"delete_budget_hard"`
	MaxWriteRepl                 int     `mapstructure:"max_write_repl"`
	AcceptableDifference         float64 `mapstructure:"acceptable_difference"`
	StuckFailureThreshold        int     `mapstructure:"stuck_failure_threshold"`
	StuckRetryEvery              int     `mapstructure:"stuck_retry_every"`
	Goals                        map[string]int `mapstructure:"goals"`
}

// ChunkserverConfig mirrors the chunkserver daemon's tunables: listen
// address, worker pool shape, and the bandwidth cap shared by replication.
type ChunkserverConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	DataDir         string `mapstructure:"data_dir"`
	Workers         int    `mapstructure:"workers"`
	JobQueueDepth   int    `mapstructure:"job_queue_depth"`
	DialTimeoutMs   int    `mapstructure:"dial_timeout_ms"`
	BandwidthKBps   int    `mapstructure:"bandwidth_kbps"`
}

// Default returns the reference configuration; Load overlays a config
// file/env/flags on top of this via viper's defaults mechanism.
func Default() Config {
	return Config{
		Master: MasterConfig{
			ListenAddr:                 ":9421",
			ClientListenAddr:           ":9420",
			CredCap:                    16,
			CSServTimeoutSeconds:       30,
			LockTimeoutSeconds:         30,
			HashSteps:                  4096,
			HashCPS:                    1000,
			EndangeredChunksPriority:   10,
			ChunksLoopPeriodSeconds:    300,
			OperationsDelayInitSeconds: 300,
			OperationsDelayDiscSeconds: 300,
			DeleteBudgetSoft:           100,
			DeleteBudgetHard:           1000,
			MaxWriteRepl:               5,
			AcceptableDifference:       0.01,
			StuckFailureThreshold:      5,
			StuckRetryEvery:            60,
			Goals:                      map[string]int{"default": 2},
		},
		Chunkserver: ChunkserverConfig{
			ListenAddr:    ":9422",
			DataDir:       "chunks",
			Workers:       4,
			JobQueueDepth: 64,
			DialTimeoutMs: 5000,
			BandwidthKBps: 0,
		},
	}
}

// Load reads configFile (if non-empty) and LFS_-prefixed environment
// variables over the defaults, returning the merged Config.
func Load(configFile string) (Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetEnvPrefix("LFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("master.listen_addr", cfg.Master.ListenAddr)
	v.SetDefault("master.client_listen_addr", cfg.Master.ClientListenAddr)
	v.SetDefault("master.cred_cap", cfg.Master.CredCap)
	v.SetDefault("master.hash_steps", cfg.Master.HashSteps)
	v.SetDefault("master.hash_cps", cfg.Master.HashCPS)
	v.SetDefault("master.chunks_loop_period_seconds", cfg.Master.ChunksLoopPeriodSeconds)
	v.SetDefault("master.sessions_path", cfg.Master.SessionsPath)
	v.SetDefault("master.cs_serv_timeout_seconds", cfg.Master.CSServTimeoutSeconds)
	v.SetDefault("master.lock_timeout_seconds", cfg.Master.LockTimeoutSeconds)
	v.SetDefault("master.endangered_chunks_priority", cfg.Master.EndangeredChunksPriority)
	v.SetDefault("master.operations_delay_init_seconds", cfg.Master.OperationsDelayInitSeconds)
	v.SetDefault("master.operations_delay_disconnect_seconds", cfg.Master.OperationsDelayDiscSeconds)
	v.SetDefault("master.delete_budget_soft", cfg.Master.DeleteBudgetSoft)
	v.SetDefault("master.delete_budget_hard", cfg.Master.DeleteBudgetHard)
	v.SetDefault("master.max_write_repl", cfg.Master.MaxWriteRepl)
	v.SetDefault("master.acceptable_difference", cfg.Master.AcceptableDifference)
	v.SetDefault("master.stuck_failure_threshold", cfg.Master.StuckFailureThreshold)
	v.SetDefault("master.stuck_retry_every", cfg.Master.StuckRetryEvery)
	v.SetDefault("master.goals", cfg.Master.Goals)
	v.SetDefault("chunkserver.listen_addr", cfg.Chunkserver.ListenAddr)
	v.SetDefault("chunkserver.data_dir", cfg.Chunkserver.DataDir)
	v.SetDefault("chunkserver.workers", cfg.Chunkserver.Workers)
	v.SetDefault("chunkserver.job_queue_depth", cfg.Chunkserver.JobQueueDepth)
	v.SetDefault("chunkserver.dial_timeout_ms", cfg.Chunkserver.DialTimeoutMs)
	v.SetDefault("chunkserver.bandwidth_kbps", cfg.Chunkserver.BandwidthKBps)
}

// ToMasterConfig converts the loaded tunables into internal/master.Config.
func (c Config) ToMasterConfig() master.Config {
	mc := master.DefaultConfig()
	m := c.Master
	mc.ListenAddr = m.ListenAddr
	mc.ClientListenAddr = m.ClientListenAddr
	mc.SessionsPath = m.SessionsPath
	mc.CredCap = m.CredCap
	mc.CSDeadAfter = time.Duration(m.CSServTimeoutSeconds) * time.Second
	mc.LockTimeout = time.Duration(m.LockTimeoutSeconds) * time.Second
	mc.Worker = chunkworker.Config{
		HashSteps:                 m.HashSteps,
		HashCPS:                   m.HashCPS,
		EndangeredChunksPriority:  m.EndangeredChunksPriority,
		ChunksLoopPeriod:          time.Duration(m.ChunksLoopPeriodSeconds) * time.Second,
		OperationsDelayInit:       time.Duration(m.OperationsDelayInitSeconds) * time.Second,
		OperationsDelayDisconnect: time.Duration(m.OperationsDelayDiscSeconds) * time.Second,
		DeleteBudgetSoft:          m.DeleteBudgetSoft,
		DeleteBudgetHard:          m.DeleteBudgetHard,
		MaxWriteRepl:              m.MaxWriteRepl,
		AcceptableDifference:      m.AcceptableDifference,
		StuckFailureThreshold:     m.StuckFailureThreshold,
		StuckRetryEvery:           m.StuckRetryEvery,
	}
	mc.Goals = make(map[string]*chunk.Goal, len(m.Goals))
	for name, copies := range m.Goals {
		mc.Goals[name] = chunk.StandardGoal(name, copies)
	}
	return mc
}
