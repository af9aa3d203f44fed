package lobby

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/directory"
	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/results"
	"github.com/DoyleJ11/kart-party/internal/transport"
)

// Config holds the protocol timings. Zero fields take the default.
type Config struct {
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	LivenessTimeout   time.Duration
	KickGrace         time.Duration

	CountdownStep time.Duration
	// CountdownLead delays the host's own countdown so countdown-start
	// reaches guests first.
	CountdownLead time.Duration
	RelayInterval time.Duration

	// VisibleWindow decides who is drawn and ranked; InactivityWindow
	// decides who the race waits for.
	VisibleWindow    time.Duration
	InactivityWindow time.Duration

	JoinAttempts   int
	JoinRetryDelay time.Duration
	JoinTimeout    time.Duration

	TotalGates int
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 3 * time.Second,
		SweepInterval:     5 * time.Second,
		LivenessTimeout:   5 * time.Second,
		KickGrace:         500 * time.Millisecond,
		CountdownStep:     time.Second,
		CountdownLead:     50 * time.Millisecond,
		RelayInterval:     50 * time.Millisecond,
		VisibleWindow:     5 * time.Second,
		InactivityWindow:  10 * time.Second,
		JoinAttempts:      3,
		JoinRetryDelay:    time.Second,
		JoinTimeout:       10 * time.Second,
		TotalGates:        race.DefaultTotalGates,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	orDuration := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	orDuration(&c.HeartbeatInterval, d.HeartbeatInterval)
	orDuration(&c.SweepInterval, d.SweepInterval)
	orDuration(&c.LivenessTimeout, d.LivenessTimeout)
	orDuration(&c.KickGrace, d.KickGrace)
	orDuration(&c.CountdownStep, d.CountdownStep)
	orDuration(&c.CountdownLead, d.CountdownLead)
	orDuration(&c.RelayInterval, d.RelayInterval)
	orDuration(&c.VisibleWindow, d.VisibleWindow)
	orDuration(&c.InactivityWindow, d.InactivityWindow)
	orDuration(&c.JoinRetryDelay, d.JoinRetryDelay)
	orDuration(&c.JoinTimeout, d.JoinTimeout)
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = d.JoinAttempts
	}
	if c.TotalGates <= 0 {
		c.TotalGates = d.TotalGates
	}
	return c
}

// Profile is how the local player wants to appear.
type Profile struct {
	Name  string
	Color engine.Color
	// MapID is the initial track. Only the host uses it.
	MapID string
}

func (p Profile) normalize() Profile {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = engine.DefaultName()
	}
	if !p.Color.Valid() {
		p.Color = engine.ColorRed
	}
	return p
}

type Deps struct {
	Endpoint  transport.Endpoint
	Directory directory.Directory
	// Publisher receives the final standings when a hosted race finishes.
	// Optional.
	Publisher results.Publisher
	Logger    *zap.Logger
	Config    Config
	Clock     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	d.Config = d.Config.withDefaults()
	return d
}
