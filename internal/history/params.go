package history

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/steelph0enix/unllamabot/internal/llama"
)

// paramDescriptor binds a generation parameter name to its parsing and
// storage behavior, replacing per-name branching in the setter.
type paramDescriptor struct {
	set func(p *llama.GenerationParams, raw string) error
	get func(p llama.GenerationParams) string
}

const unsetValue = "unset"

func floatParam(field func(p *llama.GenerationParams) **float64) paramDescriptor {
	return paramDescriptor{
		set: func(p *llama.GenerationParams, raw string) error {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("not a number: %q", raw)
			}
			*field(p) = &v
			return nil
		},
		get: func(p llama.GenerationParams) string {
			v := *field(&p)
			if v == nil {
				return unsetValue
			}
			return strconv.FormatFloat(*v, 'g', -1, 64)
		},
	}
}

func intParam(field func(p *llama.GenerationParams) **int) paramDescriptor {
	return paramDescriptor{
		set: func(p *llama.GenerationParams, raw string) error {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("not an integer: %q", raw)
			}
			*field(p) = &v
			return nil
		},
		get: func(p llama.GenerationParams) string {
			v := *field(&p)
			if v == nil {
				return unsetValue
			}
			return strconv.Itoa(*v)
		},
	}
}

func int64Param(field func(p *llama.GenerationParams) **int64) paramDescriptor {
	return paramDescriptor{
		set: func(p *llama.GenerationParams, raw string) error {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("not an integer: %q", raw)
			}
			*field(p) = &v
			return nil
		},
		get: func(p llama.GenerationParams) string {
			v := *field(&p)
			if v == nil {
				return unsetValue
			}
			return strconv.FormatInt(*v, 10)
		},
	}
}

var generationParams = map[string]paramDescriptor{
	"temperature":       floatParam(func(p *llama.GenerationParams) **float64 { return &p.Temperature }),
	"dynatemp_range":    floatParam(func(p *llama.GenerationParams) **float64 { return &p.DynatempRange }),
	"dynatemp_exponent": floatParam(func(p *llama.GenerationParams) **float64 { return &p.DynatempExponent }),
	"top_k":             intParam(func(p *llama.GenerationParams) **int { return &p.TopK }),
	"top_p":             floatParam(func(p *llama.GenerationParams) **float64 { return &p.TopP }),
	"min_p":             floatParam(func(p *llama.GenerationParams) **float64 { return &p.MinP }),
	"n_predict":         intParam(func(p *llama.GenerationParams) **int { return &p.NPredict }),
	"n_keep":            intParam(func(p *llama.GenerationParams) **int { return &p.NKeep }),
	"typical_p":         floatParam(func(p *llama.GenerationParams) **float64 { return &p.TypicalP }),
	"repeat_penalty":    floatParam(func(p *llama.GenerationParams) **float64 { return &p.RepeatPenalty }),
	"repeat_last_n":     intParam(func(p *llama.GenerationParams) **int { return &p.RepeatLastN }),
	"presence_penalty":  floatParam(func(p *llama.GenerationParams) **float64 { return &p.PresencePenalty }),
	"frequency_penalty": floatParam(func(p *llama.GenerationParams) **float64 { return &p.FrequencyPenalty }),
	"mirostat":          intParam(func(p *llama.GenerationParams) **int { return &p.Mirostat }),
	"mirostat_tau":      floatParam(func(p *llama.GenerationParams) **float64 { return &p.MirostatTau }),
	"mirostat_eta":      floatParam(func(p *llama.GenerationParams) **float64 { return &p.MirostatEta }),
	"seed":              int64Param(func(p *llama.GenerationParams) **int64 { return &p.Seed }),
}

// ParameterNames lists all settable generation parameters, sorted.
func ParameterNames() []string {
	names := make([]string, 0, len(generationParams))
	for name := range generationParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyParameter parses raw and stores it into params under name, returning
// the previous and new human-readable values.
func applyParameter(params *llama.GenerationParams, name, raw string) (oldValue, newValue string, err error) {
	desc, ok := generationParams[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	oldValue = desc.get(*params)
	if err := desc.set(params, raw); err != nil {
		return "", "", fmt.Errorf("set %s: %w", name, err)
	}
	return oldValue, desc.get(*params), nil
}
