package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/animus-labs/synthlab/internal/domain"
)

// Sink hands exported content off to its destination.
// Failures must wrap domain.ErrSinkUnavailable.
type Sink interface {
	Emit(ctx context.Context, content string, suggestedName string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, content string, suggestedName string) error

func (f SinkFunc) Emit(ctx context.Context, content string, suggestedName string) error {
	return f(ctx, content, suggestedName)
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrSinkUnavailable, fmt.Sprintf(format, args...))
}

// cleanName reduces a suggested name to a single safe path element.
func cleanName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", unavailable("suggested name %q is not a file name", name)
	}
	return name, nil
}

// Checksum is the hex sha256 of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Emission is one successful MemorySink delivery.
type Emission struct {
	Name    string
	Content string
	SHA256  string
}

// MemorySink keeps emissions in memory. SetErr makes later calls to Emit fail.
type MemorySink struct {
	mu        sync.Mutex
	emissions []Emission
	err       error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(ctx context.Context, content string, suggestedName string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("memory sink: %v", err)
	}
	name, err := cleanName(suggestedName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, s.err)
	}
	s.emissions = append(s.emissions, Emission{Name: name, Content: content, SHA256: Checksum(content)})
	return nil
}

func (s *MemorySink) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *MemorySink) Emissions() []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Emission, len(s.emissions))
	copy(out, s.emissions)
	return out
}
