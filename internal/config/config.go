// Package config resolves relay settings from the environment, an optional
// YAML file (RELAY_CONFIG) and an optional .env file. Environment variables
// win over file values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"
)

const (
	DefaultPort      = "3490"
	DefaultAddr      = "[::]:" + DefaultPort
	DefaultMaxPacket = 1024 - 46 - 32 // room for the annotation around the payload
	DefaultEtcdTTL   = 10
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	ID            string   `yaml:"id"`
	Addr          string   `yaml:"addr"`
	MaxPacket     int      `yaml:"max_packet"`
	MaxMembers    int      `yaml:"max_members"`
	AdminAddr     string   `yaml:"admin_addr"`
	AdvertiseAddr string   `yaml:"advertise_addr"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EtcdTTL       int64    `yaml:"etcd_ttl"`
	LogLevel      string   `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Addr:      DefaultAddr,
		MaxPacket: DefaultMaxPacket,
		EtcdTTL:   DefaultEtcdTTL,
		LogLevel:  "info",
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv is Load with os.LookupEnv.
func FromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from defaults, the file named by RELAY_CONFIG (if
// any) and RELAY_* variables, in that order.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("RELAY_CONFIG"); ok && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v, ok := lookup("RELAY_ID"); ok {
		cfg.ID = v
	}
	if v, ok := lookup("RELAY_ADDR"); ok && v != "" {
		cfg.Addr = v
	}
	if v, ok := lookup("RELAY_ADMIN_ADDR"); ok {
		cfg.AdminAddr = v
	}
	if v, ok := lookup("RELAY_ADVERTISE_ADDR"); ok {
		cfg.AdvertiseAddr = v
	}
	if v, ok := lookup("RELAY_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("RELAY_ETCD_ENDPOINTS"); ok {
		cfg.EtcdEndpoints = splitList(v)
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"RELAY_MAX_PACKET", &cfg.MaxPacket},
		{"RELAY_MAX_MEMBERS", &cfg.MaxMembers},
	} {
		if v, ok := lookup(f.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s=%q", ErrInvalid, f.key, v)
			}
			*f.dst = n
		}
	}
	if v, ok := lookup("RELAY_ETCD_TTL"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: RELAY_ETCD_TTL=%q", ErrInvalid, v)
		}
		cfg.EtcdTTL = n
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.Addr = NormalizeHostPort(cfg.Addr, DefaultPort)
	if cfg.AdvertiseAddr != "" {
		cfg.AdvertiseAddr = NormalizeHostPort(cfg.AdvertiseAddr, DefaultPort)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MaxPacket < 2 || c.MaxPacket > 65507:
		return fmt.Errorf("%w: max packet %d out of range [2, 65507]", ErrInvalid, c.MaxPacket)
	case c.MaxMembers < 0:
		return fmt.Errorf("%w: max members %d is negative", ErrInvalid, c.MaxMembers)
	case len(c.EtcdEndpoints) > 0 && c.EtcdTTL <= 0:
		return fmt.Errorf("%w: etcd ttl must be positive", ErrInvalid)
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalid, c.Addr, err)
	}
	if c.AdvertiseAddr != "" {
		host, _, err := net.SplitHostPort(c.AdvertiseAddr)
		if err != nil {
			return fmt.Errorf("%w: advertise addr %q: %v", ErrInvalid, c.AdvertiseAddr, err)
		}
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			return fmt.Errorf("%w: advertise addr %q is not reachable by peers", ErrInvalid, c.AdvertiseAddr)
		}
	}
	return nil
}

// Advertise returns the address other nodes should use to reach this relay:
// AdvertiseAddr when set, otherwise local.
func (c *Config) Advertise(local string) string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return local
}

// NormalizeHostPort cuts a udp:// prefix from addr and adds defPort when
// addr carries no port. Bare IPv6 hosts get bracketed.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "udp://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	return net.JoinHostPort(host, defPort)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
