// Package cards loads the card catalog from the catalog API or a local YAML
// file.
package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

var validate = validator.New()

// HTTPSource lists cards from GET {BaseURL}/cards, which answers with the
// same {code, msg, data} envelope as the workflow API.
type HTTPSource struct {
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials ports.CredentialSource
	Logger      ports.Logger
}

type listEnvelope struct {
	Code int           `json:"code"`
	Msg  string        `json:"msg"`
	Data []domain.Card `json:"data"`
}

// ListCards implements ports.CardSource.
func (s *HTTPSource) ListCards(ctx context.Context) ([]domain.Card, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(s.BaseURL, "/") + "/cards"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	if s.Credentials != nil {
		if token, err := s.Credentials.Token(ctx); err == nil && token != "" {
			req.Header.Set("authorization", "Bearer "+token)
		}
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("list cards: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("list cards: decode: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("list cards: code %d: %s", env.Code, env.Msg)
	}
	return sanitize(env.Data, s.log()), nil
}

func (s *HTTPSource) log() ports.Logger {
	if s.Logger == nil {
		return logger.Nop()
	}
	return s.Logger
}

// FileSource reads cards from a YAML document with a top-level cards list.
// A missing file is an empty catalog.
type FileSource struct {
	Path   string
	Logger ports.Logger
}

type cardFile struct {
	Cards []domain.Card `yaml:"cards"`
}

// ListCards implements ports.CardSource.
func (s *FileSource) ListCards(ctx context.Context) ([]domain.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Card{}, nil
		}
		return nil, fmt.Errorf("read card file: %w", err)
	}
	var doc cardFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse card file %s: %w", s.Path, err)
	}
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}
	return sanitize(doc.Cards, log), nil
}

// sanitize drops invalid and duplicate cards, keeping the first of each id.
func sanitize(in []domain.Card, log ports.Logger) []domain.Card {
	out := make([]domain.Card, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, card := range in {
		if err := validate.Struct(card); err != nil {
			log.Warn("skipping invalid card", map[string]interface{}{"id": card.ID, "error": err.Error()})
			continue
		}
		if _, dup := seen[card.ID]; dup {
			log.Warn("skipping duplicate card", map[string]interface{}{"id": card.ID})
			continue
		}
		seen[card.ID] = struct{}{}
		out = append(out, card)
	}
	return out
}

var (
	_ ports.CardSource = (*HTTPSource)(nil)
	_ ports.CardSource = (*FileSource)(nil)
)
