package api

// GenerateRequest is the body of POST /v1/generate. MaxTokens defaults to the
// server's configured limit.
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens *int   `json:"max_tokens,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID           string `json:"id"`
	Created      int64  `json:"created"`
	Tokens       []int  `json:"tokens"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one SSE frame carrying a single generated token.
type StreamChunk struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Token int    `json:"token"`
	Text  string `json:"text"`
}

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	finishLength = "length"
	finishStop   = "stop"
)
