// Package redisstream mirrors session change events onto Redis Streams so
// other dashboard processes can follow a session without holding the
// in-process subscription.
package redisstream

// Settings holds the Redis Streams transport configuration.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "cricket-ui",
		Consumer: "ui-1",
	}
}
