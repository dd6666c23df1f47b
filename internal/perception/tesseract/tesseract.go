// Package tesseract adapts gosseract to the perception OCR interface.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

// Engine wraps one tesseract client. Calls are serialised.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func New(lang, tessdataPrefix string) (*Engine, error) {
	if tessdataPrefix != "" {
		if err := os.Setenv("TESSDATA_PREFIX", tessdataPrefix); err != nil {
			return nil, fmt.Errorf("set TESSDATA_PREFIX: %w", err)
		}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract language %q: %w", lang, err)
	}
	return &Engine{client: client}, nil
}

func (e *Engine) Words(ctx context.Context, img image.Image) ([]perception.Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode ocr input: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set ocr image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognise words: %w", err)
	}

	origin := img.Bounds().Min
	words := make([]perception.Word, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, perception.Word{
			Text:       strings.TrimSpace(b.Word),
			Box:        b.Box.Sub(origin),
			Confidence: b.Confidence / 100,
		})
	}
	return words, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
