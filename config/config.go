package config

import (
	"os"
	"path"
	"time"

	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/naoina/toml"
)

type Common struct {
	Level       string // local, alpha, prod
	ServiceName string
}

type LogInfo struct {
	Path       string
	MaxAgeHour int
	RotateHour int
}

type DB struct {
	Path string
}

// Keyring holds the vault policy knobs: lock timeout bounds and KDF cost.
type Keyring struct {
	LockTimeoutMin          int    `toml:"LockTimeoutMin"`
	MinLockTimeoutMin       int    `toml:"MinLockTimeoutMin"`
	MaxLockTimeoutMin       int    `toml:"MaxLockTimeoutMin"`
	Argon2Time              uint32 `toml:"Argon2Time"`
	Argon2MemoryKiB         uint32 `toml:"Argon2MemoryKiB"`
	Argon2Threads           uint8  `toml:"Argon2Threads"`
	KeystoreScryptN         int    `toml:"KeystoreScryptN"` // cost of exported keystore files
	KeystoreScryptP         int    `toml:"KeystoreScryptP"`
	ConnectionRequestTTLSec int    `toml:"ConnectionRequestTTLSec"`
}

type Server struct {
	Port        int    `toml:"Port"`
	ChannelName string `toml:"ChannelName"`
}

// Session configures the UI side facade.
type Session struct {
	Endpoint            string `toml:"Endpoint"`
	ActivityIntervalSec int    `toml:"ActivityIntervalSec"`
	RequestTimeoutSec   int    `toml:"RequestTimeoutSec"`
	ReconnectMinMs      int    `toml:"ReconnectMinMs"`
	ReconnectMaxMs      int    `toml:"ReconnectMaxMs"`
	MaxResubscriptions  int    `toml:"MaxResubscriptions"`
}

type RateLimit struct {
	PasswordAttemptsPerMinute int `toml:"PasswordAttemptsPerMinute"`
	Burst                     int `toml:"Burst"`
	BanSeconds                int `toml:"BanSeconds"`
}

type Network struct {
	Default   string   `toml:"Default"`
	Available []string `toml:"Available"`
}

type Config struct {
	Common    Common
	LogInfo   LogInfo
	DB        DB
	Keyring   Keyring
	Server    Server
	Session   Session
	RateLimit RateLimit
	Network   Network
	Features  map[string]bool
}

// DefaultChannelName is the well-known tag of the background-UI port.
const DefaultChannelName = "abcfe-wallet-ui"

func NewConfig(filepath string) (*Config, error) {
	if filepath == "" {
		workDir, _ := os.Getwd()
		rootDir := utils.FindProjectRoot(workDir)
		filepath = path.Join(rootDir, "config", "config.toml")
	}

	if file, err := os.Open(filepath); err != nil {
		return nil, err
	} else {
		defer file.Close()

		c := new(Config)
		if err := toml.NewDecoder(file).Decode(c); err != nil {
			return nil, err
		} else {
			c.sanitize()
			return c, nil
		}
	}
}

// Default returns a configuration with every default applied; used by tests
// and by client commands that run without a config file.
func Default() *Config {
	c := new(Config)
	c.sanitize()
	return c
}

func (p *Config) sanitize() {
	if p.LogInfo.Path != "" && p.LogInfo.Path[0] == byte('~') {
		p.LogInfo.Path = path.Join(utils.HomeDir(), p.LogInfo.Path[1:])
	}
	if p.DB.Path != "" && p.DB.Path[0] == byte('~') {
		p.DB.Path = path.Join(utils.HomeDir(), p.DB.Path[1:])
	}
	if p.Common.ServiceName == "" {
		p.Common.ServiceName = "walletd"
	}
	if p.LogInfo.Path == "" {
		p.LogInfo.Path = path.Join(os.TempDir(), "walletd")
	}
	if p.LogInfo.MaxAgeHour == 0 {
		p.LogInfo.MaxAgeHour = 24 * 7
	}
	if p.LogInfo.RotateHour == 0 {
		p.LogInfo.RotateHour = 24
	}

	k := &p.Keyring
	if k.LockTimeoutMin == 0 {
		k.LockTimeoutMin = 15
	}
	if k.MinLockTimeoutMin == 0 {
		k.MinLockTimeoutMin = 1
	}
	if k.MaxLockTimeoutMin == 0 {
		k.MaxLockTimeoutMin = 24 * 60
	}
	if k.Argon2Time == 0 {
		k.Argon2Time = 3
	}
	if k.Argon2MemoryKiB == 0 {
		k.Argon2MemoryKiB = 64 * 1024
	}
	if k.Argon2Threads == 0 {
		k.Argon2Threads = 4
	}
	if k.KeystoreScryptN == 0 {
		k.KeystoreScryptN = 1 << 18
	}
	if k.KeystoreScryptP == 0 {
		k.KeystoreScryptP = 1
	}
	if k.ConnectionRequestTTLSec == 0 {
		k.ConnectionRequestTTLSec = 300
	}

	if p.Server.Port == 0 {
		p.Server.Port = 7760
	}
	if p.Server.ChannelName == "" {
		p.Server.ChannelName = DefaultChannelName
	}

	s := &p.Session
	if s.Endpoint == "" {
		s.Endpoint = "ws://127.0.0.1:7760"
	}
	if s.ActivityIntervalSec == 0 {
		s.ActivityIntervalSec = 30
	}
	if s.RequestTimeoutSec == 0 {
		s.RequestTimeoutSec = 60
	}
	if s.ReconnectMinMs == 0 {
		s.ReconnectMinMs = 250
	}
	if s.ReconnectMaxMs == 0 {
		s.ReconnectMaxMs = 10000
	}
	if s.MaxResubscriptions == 0 {
		s.MaxResubscriptions = 8
	}

	r := &p.RateLimit
	if r.PasswordAttemptsPerMinute == 0 {
		r.PasswordAttemptsPerMinute = 10
	}
	if r.Burst == 0 {
		r.Burst = 5
	}
	if r.BanSeconds == 0 {
		r.BanSeconds = 30
	}

	if p.Network.Default == "" {
		p.Network.Default = "devnet"
	}
	if len(p.Network.Available) == 0 {
		p.Network.Available = []string{"mainnet", "testnet", "devnet", "localnet"}
	}
	if p.Features == nil {
		p.Features = map[string]bool{}
	}
}

func (p *Config) GetConfig() *Config {
	return p
}

func (p *Config) GetLogInfoConfig() *LogInfo {
	return &p.LogInfo
}

func (p *Config) LockTimeout() time.Duration {
	return time.Duration(p.Keyring.LockTimeoutMin) * time.Minute
}

func (p *Config) ConnectionRequestTTL() time.Duration {
	return time.Duration(p.Keyring.ConnectionRequestTTLSec) * time.Second
}
