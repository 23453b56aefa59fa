package transport

import (
	"context"
	"fmt"
	"os"
	"strings"

	"orchestd/internal/common/fsutil"
)

// TokenSource yields a bearer credential. Credentials are short-lived, so the
// client consults the source immediately before every request and never caches
// the result across calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken returns the same credential on every call. Intended for tests
// and for backends that accept a long-lived token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// FileToken re-reads a token file on every call so rotated credentials are
// picked up without a restart.
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	p, err := fsutil.ExpandHome(f.Path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
