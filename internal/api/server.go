// Package api serves greedy generation over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tinyclm/internal/decode"
	"github.com/samcharles93/tinyclm/internal/logger"
)

// Generator is the decoding surface the server needs. *decode.Decoder
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, seed string, maxNew int, emit decode.EmitFunc) ([]int, decode.Stats, error)
}

type Options struct {
	// MaxTokens caps max_tokens and is used when a request omits it.
	MaxTokens int
	Logger    logger.Logger
}

// Server runs one generation at a time.
type Server struct {
	mu    sync.Mutex
	gen   Generator
	max   int
	log   logger.Logger
	clock func() time.Time
}

func NewServer(gen Generator, opts Options) *Server {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Server{gen: gen, max: opts.MaxTokens, log: opts.Logger, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/generate", s.handleGenerate)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body: "+err.Error())
	}
	maxNew, err := s.validate(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := "gen-" + uuid.NewString()
	log := s.log.With("id", id)
	ctx := logger.WithContext(c.Request().Context(), log)

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Stream {
		return s.stream(ctx, c, id, req.Prompt, maxNew)
	}

	var text strings.Builder
	seq, stats, err := s.gen.Generate(ctx, req.Prompt, maxNew, func(ev decode.Event) error {
		text.WriteString(ev.Text)
		return nil
	})
	if err != nil {
		return s.generationError(c, log, err)
	}

	prompt := len(seq) - stats.Generated
	resp := GenerateResponse{
		ID:           id,
		Created:      s.clock().Unix(),
		Tokens:       append([]int{}, seq[prompt:]...),
		Text:         text.String(),
		FinishReason: finishReason(stats),
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: stats.Generated,
			TotalTokens:      len(seq),
		},
	}
	log.Info("generation complete", "prompt_tokens", prompt, "completion_tokens", stats.Generated, "duration", stats.Duration)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) stream(ctx context.Context, c *echo.Context, id, prompt string, maxNew int) error {
	sse, err := newSSEWriter(c)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	c.Response().WriteHeader(http.StatusOK)

	log := logger.FromContext(ctx)
	_, stats, err := s.gen.Generate(ctx, prompt, maxNew, func(ev decode.Event) error {
		return sse.send(StreamChunk{ID: id, Index: ev.Index, Token: ev.Token, Text: ev.Text})
	})
	if err != nil {
		log.Warn("streamed generation failed", "error", err, "generated", stats.Generated)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		_ = sse.sendEvent("error", ErrorBody{Error: ErrorDetail{Message: err.Error(), Type: errorType(err)}})
		return nil
	}
	log.Info("streamed generation complete", "completion_tokens", stats.Generated, "duration", stats.Duration)
	return sse.done()
}

func (s *Server) validate(req GenerateRequest) (int, error) {
	if req.Prompt == "" {
		return 0, newInvalidRequest("prompt must not be empty")
	}
	if req.MaxTokens == nil {
		return s.max, nil
	}
	n := *req.MaxTokens
	if n < 0 || n > s.max {
		return 0, newInvalidRequest(fmt.Sprintf("max_tokens must be between 0 and %d", s.max))
	}
	return n, nil
}

func (s *Server) generationError(c *echo.Context, log logger.Logger, err error) error {
	log.Error("generation failed", "error", err)
	if errors.Is(err, decode.ErrEmptySeed) {
		return writeBadRequest(c, err.Error())
	}
	return writeError(c, http.StatusInternalServerError, errorType(err), err.Error())
}

func errorType(err error) string {
	if errors.Is(err, decode.ErrEmptySeed) {
		return "invalid_request_error"
	}
	return "server_error"
}

func finishReason(stats decode.Stats) string {
	if stats.Stopped {
		return finishStop
	}
	return finishLength
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
