package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// IngestConfig holds ingest-time policy that operators tune without restarts.
type IngestConfig struct {
	// BlockedEvents are event names dropped at the HTTP boundary.
	BlockedEvents []string `mapstructure:"blockedEvents"`
	// BootstrapEvents are exempt from the consent gate (consent banner itself).
	BootstrapEvents []string `mapstructure:"bootstrapEvents"`
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BootstrapEvents: []string{"consent_banner_shown"},
	}
}

// IngestConfigHolder serves the current ingest config and hot-reloads it from
// outlitd.yml when the file changes.
type IngestConfigHolder struct {
	current atomic.Value // holds IngestConfig
}

func NewIngestConfigHolder() (*IngestConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("outlitd")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/outlit")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultIngestConfig()
		v.SetDefault("ingest.blockedEvents", defaults.BlockedEvents)
		v.SetDefault("ingest.bootstrapEvents", defaults.BootstrapEvents)
	}

	var cfg IngestConfig
	if err := v.UnmarshalKey("ingest", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.BootstrapEvents) == 0 {
		cfg.BootstrapEvents = DefaultIngestConfig().BootstrapEvents
	}

	holder := &IngestConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated IngestConfig
		if err := v.UnmarshalKey("ingest", &updated); err != nil {
			log.Printf("[ingest-config] reload failed: %v", err)
			return
		}
		if len(updated.BootstrapEvents) == 0 {
			updated.BootstrapEvents = DefaultIngestConfig().BootstrapEvents
		}
		holder.current.Store(updated)
		log.Printf("[ingest-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticIngestConfigHolder wraps a fixed config, for embedders and tests
// that do not watch a file.
func NewStaticIngestConfigHolder(cfg IngestConfig) *IngestConfigHolder {
	holder := &IngestConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *IngestConfigHolder) Get() IngestConfig {
	return h.current.Load().(IngestConfig)
}

// Blocked reports whether name is on the operator denylist.
func (c IngestConfig) Blocked(name string) bool {
	for _, blocked := range c.BlockedEvents {
		if strings.EqualFold(strings.TrimSpace(blocked), name) {
			return true
		}
	}
	return false
}
