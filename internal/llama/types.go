package llama

// GenerationParams are the per-request sampling knobs forwarded to the
// llama.cpp server. Nil fields are omitted so the server keeps its own
// defaults for them.
type GenerationParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	DynatempRange    *float64 `json:"dynatemp_range,omitempty"`
	DynatempExponent *float64 `json:"dynatemp_exponent,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MinP             *float64 `json:"min_p,omitempty"`
	NPredict         *int     `json:"n_predict,omitempty"`
	NKeep            *int     `json:"n_keep,omitempty"`
	TypicalP         *float64 `json:"typical_p,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN      *int     `json:"repeat_last_n,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Mirostat         *int     `json:"mirostat,omitempty"`
	MirostatTau      *float64 `json:"mirostat_tau,omitempty"`
	MirostatEta      *float64 `json:"mirostat_eta,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
}

// CompletionRequest is the payload for the /completion endpoint.
type CompletionRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	GenerationParams
}

// completionChunk mirrors one streamed /completion SSE payload. Only the
// fields the bot consumes are decoded.
type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Props describes the model currently served, from /props.
type Props struct {
	ModelPath                 string `json:"model_path"`
	ChatTemplate              string `json:"chat_template"`
	DefaultGenerationSettings struct {
		NCtx int `json:"n_ctx"`
	} `json:"default_generation_settings"`
}

// ModelName extracts a human-readable model name from the served model path.
func (p Props) ModelName() string {
	path := p.ModelPath
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// TemplateMessage is one role-tagged message for /apply-template.
type TemplateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
