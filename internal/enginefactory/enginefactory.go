// Package enginefactory builds storage and broker engines from configuration
// entries.
package enginefactory

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/greyhorse-org/greyhorse/internal/agentconfig"
	"github.com/greyhorse-org/greyhorse/pkg/broker/rmq"
	"github.com/greyhorse-org/greyhorse/pkg/engine"
	"github.com/greyhorse-org/greyhorse/pkg/storage/clickhouse"
	"github.com/greyhorse-org/greyhorse/pkg/storage/elasticsearch"
	"github.com/greyhorse-org/greyhorse/pkg/storage/mysql"
	"github.com/greyhorse-org/greyhorse/pkg/storage/postgres"
	"github.com/greyhorse-org/greyhorse/pkg/storage/redis"
	"github.com/greyhorse-org/greyhorse/pkg/storage/sqlite"
)

// Build creates the engine described by the configuration entry. The entry
// settings are decoded into the backend specific configuration.
func Build(conf agentconfig.EngineConf) (engine.Engine, error) {
	switch conf.Type {
	case "postgres":
		cfg, err := decode[postgres.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return postgres.New(conf.Name, cfg), nil
	case "mysql", "mariadb":
		cfg, err := decode[mysql.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return mysql.New(conf.Name, cfg), nil
	case "sqlite":
		cfg, err := decode[sqlite.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return sqlite.New(conf.Name, cfg), nil
	case "clickhouse":
		cfg, err := decode[clickhouse.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return clickhouse.New(conf.Name, cfg), nil
	case "elasticsearch":
		cfg, err := decode[elasticsearch.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return elasticsearch.New(conf.Name, cfg), nil
	case "redis":
		cfg, err := decode[redis.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return redis.New(conf.Name, cfg), nil
	case "rabbitmq", "rmq":
		cfg, err := decode[rmq.Config](conf.Settings)
		if err != nil {
			return nil, err
		}
		return rmq.New(conf.Name, cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", conf.Type)
	}
}

// decode maps loosely typed settings onto a configuration struct, accepting
// human readable durations like "15s".
func decode[T any](settings map[string]any) (T, error) {
	var cfg T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(settings); err != nil {
		return cfg, fmt.Errorf("invalid engine settings: %w", err)
	}
	return cfg, nil
}
