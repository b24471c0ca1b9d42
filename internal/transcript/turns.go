package transcript

import (
	"fmt"
	"strings"
)

// AggregateOption configures [AggregateTurns].
type AggregateOption func(*aggregateConfig)

type aggregateConfig struct {
	strict bool
}

// WithStrictChannels makes [AggregateTurns] reject rows whose channel is
// neither [ChannelAgent] nor [ChannelCustomer]. Without it such channels are
// tracked as just another speaker.
func WithStrictChannels() AggregateOption {
	return func(c *aggregateConfig) {
		c.strict = true
	}
}

// AggregateTurns collapses consecutive rows on the same channel into turns.
//
// The current speaker starts as [ChannelAgent]. A turn is emitted each time
// the channel changes and phrases have been accumulated, and once more at the
// end of the input. Empty input yields an empty result.
//
// Errors are returned as *[ParsingError] with an empty Path.
func AggregateTurns(rows []Row, opts ...AggregateOption) ([]Turn, error) {
	var cfg aggregateConfig
	for _, o := range opts {
		o(&cfg)
	}

	var (
		turns   []Turn
		parts   []string
		current = ChannelAgent
	)
	flush := func() {
		turns = append(turns, Turn{
			Text:    strings.Join(parts, " ") + " ",
			Speaker: current,
		})
		parts = parts[:0]
	}

	for i, row := range rows {
		if cfg.strict && row.Channel != ChannelAgent && row.Channel != ChannelCustomer {
			return nil, &ParsingError{Row: i, Err: fmt.Errorf("unsupported channel %d", row.Channel)}
		}
		if row.Channel != current {
			if len(parts) > 0 {
				flush()
			}
			current = row.Channel
		}
		parts = append(parts, row.Phrase)
	}
	if len(parts) > 0 {
		flush()
	}
	return turns, nil
}
