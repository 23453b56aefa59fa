package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Timeout classes. Status reads are short, list/mutation calls get the
// default, file-bearing uploads get the long deadline.
const (
	defaultShortTimeout  = 8 * time.Second
	defaultCallTimeout   = 15 * time.Second
	defaultUploadTimeout = 60 * time.Second
)

type timeoutClass int

const (
	classShort timeoutClass = iota
	classDefault
	classUpload
)

// Config holds construction parameters for Client.
// Zero timeout values fall back to package defaults.
type Config struct {
	BaseURL       string
	Token         TokenSource
	ShortTimeout  time.Duration
	CallTimeout   time.Duration
	UploadTimeout time.Duration
	Logger        zerolog.Logger
}

// Client issues authenticated, deadline-bounded requests against the model
// backend and normalizes its response envelopes into pkg/types values. All
// failures are returned as *Error; nothing escapes untyped.
type Client struct {
	baseURL string
	token   TokenSource
	hc      *http.Client
	short   time.Duration
	call    time.Duration
	upload  time.Duration
	log     zerolog.Logger
}

// New constructs a Client. The underlying http.Client carries no global
// timeout; deadlines are applied per call by class.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		hc:      &http.Client{},
		short:   cfg.ShortTimeout,
		call:    cfg.CallTimeout,
		upload:  cfg.UploadTimeout,
		log:     cfg.Logger,
	}
	if c.token == nil {
		c.token = StaticToken("")
	}
	if c.short <= 0 {
		c.short = defaultShortTimeout
	}
	if c.call <= 0 {
		c.call = defaultCallTimeout
	}
	if c.upload <= 0 {
		c.upload = defaultUploadTimeout
	}
	return c
}

func (c *Client) timeoutFor(class timeoutClass) time.Duration {
	switch class {
	case classShort:
		return c.short
	case classUpload:
		return c.upload
	default:
		return c.call
	}
}

// do performs one request. The bearer credential is fetched from the token
// source immediately before the call; it is never cached across calls.
func (c *Client) do(ctx context.Context, class timeoutClass, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(class))
	defer cancel()

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, NewError(KindUnauthorized, 0, fmt.Sprintf("obtain credential: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, NewError(KindValidation, 0, fmt.Sprintf("build request: %v", err))
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Warn().Str("method", method).Str("path", path).Dur("dur", time.Since(start)).Msg("backend call timed out")
			return nil, NewError(KindTimeout, 0, fmt.Sprintf("%s %s: deadline exceeded", method, path))
		}
		return nil, NewError(KindServer, 0, fmt.Sprintf("%s %s: %v", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindTimeout, 0, fmt.Sprintf("%s %s: deadline exceeded reading body", method, path))
		}
		return nil, NewError(KindServer, resp.StatusCode, fmt.Sprintf("%s %s: read body: %v", method, path, err))
	}

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("dur", time.Since(start)).Msg("backend call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	msg := backendMessage(raw)
	if msg == "" {
		msg = fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewError(KindUnauthorized, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError(KindNotFound, resp.StatusCode, msg)
	default:
		return nil, NewError(KindServer, resp.StatusCode, msg)
	}
}

func (c *Client) getJSON(ctx context.Context, class timeoutClass, path string, out any) error {
	raw, err := c.do(ctx, class, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decodeInto(raw, out)
}

func (c *Client) postJSON(ctx context.Context, class timeoutClass, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return NewError(KindValidation, 0, fmt.Sprintf("encode body: %v", err))
		}
		body = bytes.NewReader(b)
	}
	raw, err := c.do(ctx, class, http.MethodPost, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeInto(raw, out)
}

func (c *Client) deleteJSON(ctx context.Context, path string, out any) error {
	raw, err := c.do(ctx, classDefault, http.MethodDelete, path, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeInto(raw, out)
}

// postMultipart uploads a file plus form fields. The content type comes from
// the multipart writer so the boundary parameter is always correct.
func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return NewError(KindValidation, 0, fmt.Sprintf("write field %s: %v", k, err))
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return NewError(KindValidation, 0, fmt.Sprintf("create form file: %v", err))
	}
	if _, err := io.Copy(fw, file); err != nil {
		return NewError(KindValidation, 0, fmt.Sprintf("copy upload: %v", err))
	}
	if err := mw.Close(); err != nil {
		return NewError(KindValidation, 0, fmt.Sprintf("close multipart: %v", err))
	}
	raw, err := c.do(ctx, classUpload, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeInto(raw, out)
}

// decodeInto parses a JSON body, failing closed as a server error on
// unexpected shapes rather than propagating zero values.
func decodeInto(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return NewError(KindServer, 0, fmt.Sprintf("malformed payload: %v", err))
	}
	return nil
}

// backendMessage extracts the human-readable message from an error body.
// FastAPI-style backends use "detail"; others use "error" or "message".
func backendMessage(raw []byte) string {
	var e struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	for _, s := range []string{e.Detail, e.Error, e.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}
