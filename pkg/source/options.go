package source

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeOptions decodes a source's free-form options into out. Unknown keys
// are rejected so that typos surface at startup.
func decodeOptions(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("creating options decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}

	return nil
}
