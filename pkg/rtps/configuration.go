package rtps

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jabolina/go-rtps/pkg/rtps/types"
	"github.com/spf13/viper"
)

// Creates the default configuration with a random GuidPrefix.
// Metrics are not registered unless a registerer is set.
func DefaultConfiguration() *types.Configuration {
	return &types.Configuration{
		GuidPrefix:          types.NewGuidPrefix(types.VendorIdDefault),
		PacketBufferSize:    types.DefaultPacketBufferSize,
		HeartbeatPeriod:     types.DefaultHeartbeatPeriod,
		HistoryCacheMaxSize: types.DefaultHistoryCacheMaxSize,
		Reliability:         types.Reliable,
		FragmentTimeout:     types.DefaultFragmentTimeout,
		Address:             "0.0.0.0",
		Port:                types.DefaultPort,
		Logger:              NewDefaultLogger(),
		Clock:               clock.New(),
	}
}

// Layout of the configuration file.
type fileConfiguration struct {
	GuidPrefix          string        `mapstructure:"guid_prefix"`
	PacketBufferSize    int           `mapstructure:"packet_buffer_size"`
	HeartbeatPeriod     time.Duration `mapstructure:"heartbeat_period"`
	HistoryCacheMaxSize int           `mapstructure:"history_cache_max_size"`
	Reliability         string        `mapstructure:"reliability"`
	FragmentTimeout     time.Duration `mapstructure:"fragment_timeout"`
	Network             struct {
		Address        string `mapstructure:"address"`
		Port           int    `mapstructure:"port"`
		MulticastGroup string `mapstructure:"multicast_group"`
		Interface      string `mapstructure:"interface"`
	} `mapstructure:"network"`
	Logging struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"logging"`
}

// Loads the configuration from the file, when given, and from
// the environment with the RTPS prefix. Keys not set anywhere
// keep the default value.
func LoadConfiguration(path string) (*types.Configuration, error) {
	v := viper.New()

	v.SetDefault("guid_prefix", "")
	v.SetDefault("packet_buffer_size", types.DefaultPacketBufferSize)
	v.SetDefault("heartbeat_period", types.DefaultHeartbeatPeriod)
	v.SetDefault("history_cache_max_size", types.DefaultHistoryCacheMaxSize)
	v.SetDefault("reliability", types.Reliable.String())
	v.SetDefault("fragment_timeout", types.DefaultFragmentTimeout)
	v.SetDefault("network.address", "0.0.0.0")
	v.SetDefault("network.port", types.DefaultPort)
	v.SetDefault("network.multicast_group", "")
	v.SetDefault("network.interface", "")
	v.SetDefault("logging.debug", false)

	v.SetEnvPrefix("RTPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var fc fileConfiguration
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg := DefaultConfiguration()
	if fc.GuidPrefix != "" {
		prefix, err := types.ParseGuidPrefix(fc.GuidPrefix)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
		}
		cfg.GuidPrefix = prefix
	}
	reliability, err := types.ParseReliabilityKind(fc.Reliability)
	if err != nil {
		return nil, err
	}

	cfg.PacketBufferSize = fc.PacketBufferSize
	cfg.HeartbeatPeriod = fc.HeartbeatPeriod
	cfg.HistoryCacheMaxSize = fc.HistoryCacheMaxSize
	cfg.Reliability = reliability
	cfg.FragmentTimeout = fc.FragmentTimeout
	cfg.Address = fc.Network.Address
	cfg.Port = fc.Network.Port
	cfg.MulticastGroup = fc.Network.MulticastGroup
	cfg.Interface = fc.Network.Interface
	cfg.Logger.ToggleDebug(fc.Logging.Debug)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
