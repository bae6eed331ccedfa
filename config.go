package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/0x5487/execution-engine/queue"
	"github.com/0x5487/execution-engine/router"
	"github.com/0x5487/execution-engine/venue"
)

// Config describes the instruments, venues and queues of an Engine.
type Config struct {
	Instruments  []string      `mapstructure:"instruments"`
	DefaultVenue string        `mapstructure:"default_venue"`
	Venues       []VenueConfig `mapstructure:"venues"`
	Queue        QueueConfig   `mapstructure:"queue"`
	// DedupWindow is the number of fills and commands remembered to drop
	// redeliveries.
	DedupWindow  int `mapstructure:"dedup_window"`
	ChildStripes int `mapstructure:"child_stripes"`
}

// VenueConfig describes one simulated venue.
type VenueConfig struct {
	Name                       string           `mapstructure:"name"`
	AllowCancelBeforeAck       bool             `mapstructure:"allow_cancel_before_ack"`
	CancelRequiresVenueOrderID bool             `mapstructure:"cancel_requires_venue_order_id"`
	ImmediateFill              bool             `mapstructure:"immediate_fill"`
	FatFinger                  *FatFingerConfig `mapstructure:"fat_finger"`
}

// FatFingerConfig is a price band in percent around the NBBO.
type FatFingerConfig struct {
	Up         string `mapstructure:"up"`
	Down       string `mapstructure:"down"`
	FailClosed bool   `mapstructure:"fail_closed"`
}

// QueueConfig sizes the engine rings and sets their idle strategy.
type QueueConfig struct {
	Capacity int64         `mapstructure:"capacity"`
	Spins    int           `mapstructure:"spins"`
	Yields   int           `mapstructure:"yields"`
	Park     time.Duration `mapstructure:"park"`
}

// DefaultConfig returns a single venue setup with immediate fills enabled.
func DefaultConfig() Config {
	b := queue.DefaultBackoff()
	return Config{
		DefaultVenue: "SIM",
		Queue: QueueConfig{
			Capacity: 4096,
			Spins:    b.Spins,
			Yields:   b.Yields,
			Park:     b.Park,
		},
		DedupWindow:  1 << 16,
		ChildStripes: 64,
	}
}

// LoadConfig reads path, if not empty, over the defaults. Any key can be
// overridden from the environment with the EXEC_ prefix, for example
// EXEC_QUEUE_CAPACITY or EXEC_INSTRUMENTS=AAPL,MSFT.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("instruments", def.Instruments)
	v.SetDefault("default_venue", def.DefaultVenue)
	v.SetDefault("queue.capacity", def.Queue.Capacity)
	v.SetDefault("queue.spins", def.Queue.Spins)
	v.SetDefault("queue.yields", def.Queue.Yields)
	v.SetDefault("queue.park", def.Queue.Park)
	v.SetDefault("dedup_window", def.DedupWindow)
	v.SetDefault("child_stripes", def.ChildStripes)

	v.SetEnvPrefix("EXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills in the default venue when none is listed and checks the
// rest.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 && c.DefaultVenue != "" {
		c.Venues = []VenueConfig{{Name: c.DefaultVenue, ImmediateFill: true}}
	}

	switch {
	case len(c.Instruments) == 0:
		return fmt.Errorf("%w: no instruments", ErrInvalidConfig)
	case len(c.Venues) == 0:
		return fmt.Errorf("%w: no venues", ErrInvalidConfig)
	case c.Queue.Capacity <= 0 || c.Queue.Capacity&(c.Queue.Capacity-1) != 0:
		return fmt.Errorf("%w: queue capacity %d is not a power of 2", ErrInvalidConfig, c.Queue.Capacity)
	case c.DedupWindow <= 0:
		return fmt.Errorf("%w: dedup window must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Venues))
	for _, vc := range c.Venues {
		if vc.Name == "" || seen[vc.Name] {
			return fmt.Errorf("%w: venue name %q is empty or repeated", ErrInvalidConfig, vc.Name)
		}
		seen[vc.Name] = true
		if _, err := vc.chain(); err != nil {
			return err
		}
	}
	if c.DefaultVenue != "" && !seen[c.DefaultVenue] {
		return fmt.Errorf("%w: default venue %q is not configured", ErrInvalidConfig, c.DefaultVenue)
	}
	return nil
}

func (q QueueConfig) backoff() queue.Backoff {
	return queue.Backoff{Spins: q.Spins, Yields: q.Yields, Park: q.Park}
}

func (vc VenueConfig) policy() router.Policy {
	return router.Policy{
		AllowCancelBeforeAck:       vc.AllowCancelBeforeAck,
		CancelRequiresVenueOrderID: vc.CancelRequiresVenueOrderID,
	}
}

// chain builds the strategy factory of the venue: fat finger band, then
// immediate fill, then the book.
func (vc VenueConfig) chain() (func() []venue.Strategy, error) {
	var band *venue.FatFinger
	if ff := vc.FatFinger; ff != nil {
		up, err := decimal.NewFromString(ff.Up)
		if err != nil {
			return nil, fmt.Errorf("%w: venue %s fat finger up: %v", ErrInvalidConfig, vc.Name, err)
		}
		down, err := decimal.NewFromString(ff.Down)
		if err != nil {
			return nil, fmt.Errorf("%w: venue %s fat finger down: %v", ErrInvalidConfig, vc.Name, err)
		}
		band = &venue.FatFinger{Up: up, Down: down, FailClosed: ff.FailClosed}
	}

	immediate := vc.ImmediateFill
	return func() []venue.Strategy {
		var chain []venue.Strategy
		if band != nil {
			chain = append(chain, *band)
		}
		if immediate {
			chain = append(chain, venue.ImmediateFill{})
		}
		return append(chain, venue.Matching{})
	}, nil
}
