package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When a
// journal path is configured the bus is wrapped in a JournaledBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var b Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		group := cfg.KafkaGroup
		if group == "" {
			group = "ranktree"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: group,
			ClientID:      cfg.KafkaClientID,
		}, log)
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.Journal == "" {
		return b, nil
	}
	journal, err := NewJournal(cfg.Journal)
	if err != nil {
		b.Close()
		return nil, err
	}
	return NewJournaledBus(b, journal, log), nil
}
