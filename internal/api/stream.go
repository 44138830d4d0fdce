package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// sseWriter writes server-sent event frames and flushes after each one.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: res, flush: flusher.Flush}, nil
}

func (s *sseWriter) send(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.raw("", b)
}

func (s *sseWriter) sendEvent(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.raw(event, b)
}

func (s *sseWriter) done() error {
	return s.raw("", []byte("[DONE]"))
}

func (s *sseWriter) raw(event string, data []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}
