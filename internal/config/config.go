// Package config reads process settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	TransportRelay  = "relay"
	TransportWebRTC = "webrtc"
)

type Log struct {
	Level string
	Dev   bool
}

type Server struct {
	HTTPAddr        string
	Store           string
	PostgresDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CodeTTL         time.Duration
	CleanupInterval time.Duration
	CORSOrigins     []string
	ResultsChannel  string
	Log             Log
}

type Peer struct {
	RelayURL     string
	DirectoryURL string
	Transport    string
	Codec        string
	Name         string
	Color        string
	IdentityFile string
	STUNURLs     []string
	// RedisAddr enables publishing hosted race results. Empty disables it.
	RedisAddr      string
	ResultsChannel string
	Log            Log
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	if err := loadDotEnv(); err != nil {
		return Server{}, err
	}
	r := reader{}
	cfg := Server{
		HTTPAddr:        r.str("KART_HTTP_ADDR", ":8080"),
		Store:           strings.ToLower(r.str("KART_STORE", StoreMemory)),
		PostgresDSN:     r.str("KART_POSTGRES_DSN", ""),
		RedisAddr:       r.str("KART_REDIS_ADDR", ""),
		RedisPassword:   r.str("KART_REDIS_PASSWORD", ""),
		RedisDB:         r.int("KART_REDIS_DB", 0),
		CodeTTL:         r.duration("KART_CODE_TTL", 2*time.Hour),
		CleanupInterval: r.duration("KART_CLEANUP_INTERVAL", 10*time.Minute),
		CORSOrigins:     r.list("KART_CORS_ORIGINS", []string{"*"}),
		ResultsChannel:  r.str("KART_RESULTS_CHANNEL", "kart-results"),
		Log:             r.log(),
	}
	if r.err != nil {
		return Server{}, r.err
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return Server{}, errors.New("KART_POSTGRES_DSN is required for the postgres store")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return Server{}, errors.New("KART_REDIS_ADDR is required for the redis store")
		}
	default:
		return Server{}, fmt.Errorf("unknown KART_STORE %q", cfg.Store)
	}
	return cfg, nil
}

func LoadPeer() (Peer, error) {
	if err := loadDotEnv(); err != nil {
		return Peer{}, err
	}
	r := reader{}
	cfg := Peer{
		RelayURL:       r.str("KART_RELAY_URL", "ws://localhost:8080/ws"),
		DirectoryURL:   r.str("KART_DIRECTORY_URL", "http://localhost:8080"),
		Transport:      strings.ToLower(r.str("KART_TRANSPORT", TransportRelay)),
		Codec:          strings.ToLower(r.str("KART_CODEC", "json")),
		Name:           r.str("KART_NAME", ""),
		Color:          strings.ToLower(r.str("KART_COLOR", "red")),
		IdentityFile:   r.str("KART_IDENTITY_FILE", ""),
		STUNURLs:       r.list("KART_STUN_URLS", []string{"stun:stun.l.google.com:19302"}),
		RedisAddr:      r.str("KART_REDIS_ADDR", ""),
		ResultsChannel: r.str("KART_RESULTS_CHANNEL", "kart-results"),
		Log:            r.log(),
	}
	if r.err != nil {
		return Peer{}, r.err
	}
	if cfg.Transport != TransportRelay && cfg.Transport != TransportWebRTC {
		return Peer{}, fmt.Errorf("unknown KART_TRANSPORT %q", cfg.Transport)
	}
	return cfg, nil
}

// reader keeps the first parse error so callers check once.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		if err == nil {
			err = errors.New("must be positive")
		}
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (r *reader) log() Log {
	return Log{
		Level: r.str("KART_LOG_LEVEL", "info"),
		Dev:   r.bool("KART_LOG_DEV", false),
	}
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
