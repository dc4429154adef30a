package plan

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog resolves tier configuration. The backing map is swapped atomically
// when plans.yml changes on disk.
type Catalog struct {
	current atomic.Value // map[Tier]Config
}

type rawTier struct {
	BasePrice     string `mapstructure:"basePrice"`
	SeatPrice     string `mapstructure:"seatPrice"`
	IncludedSeats int    `mapstructure:"includedSeats"`
	AICredits     int    `mapstructure:"aiCredits"`
	BasePriceRef  string `mapstructure:"basePriceRef"`
	SeatPriceRef  string `mapstructure:"seatPriceRef"`
}

// NewStaticCatalog builds a catalog that never reloads.
func NewStaticCatalog(configs map[Tier]Config) (*Catalog, error) {
	if err := validate(configs, false); err != nil {
		return nil, err
	}
	c := &Catalog{}
	c.current.Store(configs)
	return c, nil
}

// NewCatalog loads plans.yml and watches it for changes.
func NewCatalog(cfg config.Config, log *zap.Logger) (*Catalog, error) {
	log = log.Named("plan.catalog")
	requireRefs := cfg.BillingProvider == config.ProviderStripe

	v := viper.New()
	if cfg.PlansPath != "" {
		v.SetConfigFile(cfg.PlansPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/seatledger")
		v.AddConfigPath(".")
	}

	catalog := &Catalog{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read plans config: %w", err)
		}
		defaults := DefaultConfigs()
		if err := validate(defaults, requireRefs); err != nil {
			return nil, err
		}
		log.Info("plans config not found, using defaults")
		catalog.current.Store(defaults)
		return catalog, nil
	}

	configs, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := validate(configs, requireRefs); err != nil {
		return nil, err
	}
	catalog.current.Store(configs)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decode(v)
		if err == nil {
			err = validate(updated, requireRefs)
		}
		if err != nil {
			log.Warn("invalid plans config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		catalog.current.Store(updated)
		log.Info("plans config reloaded", zap.String("file", e.Name))
	})

	return catalog, nil
}

// Get returns the configuration of t.
func (c *Catalog) Get(t Tier) (Config, error) {
	configs := c.current.Load().(map[Tier]Config)
	cfg, ok := configs[t]
	if !ok {
		return Config{}, ErrUnknownTier
	}
	return cfg, nil
}

// MustGet is Get for tiers that are known to be valid.
func (c *Catalog) MustGet(t Tier) Config {
	cfg, err := c.Get(t)
	if err != nil {
		panic(fmt.Sprintf("plan %q not configured", t))
	}
	return cfg
}

// IsSeatPrice reports whether ref is the seat price of any tier.
func (c *Catalog) IsSeatPrice(ref string) bool {
	if ref == "" {
		return false
	}
	for _, cfg := range c.current.Load().(map[Tier]Config) {
		if cfg.SeatPriceRef == ref {
			return true
		}
	}
	return false
}

// IsBasePrice reports whether ref is the base price of any tier.
func (c *Catalog) IsBasePrice(ref string) bool {
	if ref == "" {
		return false
	}
	for _, cfg := range c.current.Load().(map[Tier]Config) {
		if cfg.BasePriceRef == ref {
			return true
		}
	}
	return false
}

// TierForBasePrice returns the tier billed by base price ref.
func (c *Catalog) TierForBasePrice(ref string) (Tier, bool) {
	if ref == "" {
		return "", false
	}
	for tier, cfg := range c.current.Load().(map[Tier]Config) {
		if cfg.BasePriceRef == ref {
			return tier, true
		}
	}
	return "", false
}

func decode(v *viper.Viper) (map[Tier]Config, error) {
	var raw map[string]rawTier
	if err := v.UnmarshalKey("plans", &raw); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	out := make(map[Tier]Config, len(raw))
	for name, r := range raw {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("plans.%s: %w", name, err)
		}
		base, err := parsePrice(r.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("plans.%s.basePrice: %w", name, err)
		}
		seat, err := parsePrice(r.SeatPrice)
		if err != nil {
			return nil, fmt.Errorf("plans.%s.seatPrice: %w", name, err)
		}
		out[tier] = Config{
			BasePrice:     base,
			SeatPrice:     seat,
			IncludedSeats: r.IncludedSeats,
			AICredits:     r.AICredits,
			BasePriceRef:  strings.TrimSpace(r.BasePriceRef),
			SeatPriceRef:  strings.TrimSpace(r.SeatPriceRef),
		}
	}
	return out, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func validate(configs map[Tier]Config, requireRefs bool) error {
	for _, t := range Tiers {
		cfg, ok := configs[t]
		if !ok {
			return fmt.Errorf("plan %q is not configured", t)
		}
		if cfg.BasePrice.IsNegative() || cfg.SeatPrice.IsNegative() {
			return fmt.Errorf("plan %q has a negative price", t)
		}
		if cfg.IncludedSeats < 0 || cfg.AICredits < 0 {
			return fmt.Errorf("plan %q has negative limits", t)
		}
		if requireRefs && t.IsPaid() && (cfg.BasePriceRef == "" || cfg.SeatPriceRef == "") {
			return fmt.Errorf("plan %q is missing external price refs", t)
		}
	}
	return nil
}
