package kiln

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Config is the configuration mapping handed to a container. Loading it (from
// files, flags or environment) is the caller's concern; the runtime core only
// reads the keys it recognizes and providers may read their own sections.
type Config map[string]any

// MaxWorkersKey is the config key bounding concurrent workers per container.
const MaxWorkersKey = "max_workers"

// DefaultMaxWorkers bounds concurrent workers when max_workers is absent or
// zero.
const DefaultMaxWorkers = 10

// containerSettings are the config keys the container itself consumes.
type containerSettings struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// settings decodes the recognized keys, applying defaults. Unknown keys are
// ignored; they belong to providers.
func (c Config) settings() (containerSettings, error) {
	var s containerSettings

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return s, err
	}

	if err := dec.Decode(map[string]any(c)); err != nil {
		return s, fmt.Errorf("invalid container config: %w", err)
	}

	if s.MaxWorkers <= 0 {
		s.MaxWorkers = DefaultMaxWorkers
	}

	return s, nil
}
