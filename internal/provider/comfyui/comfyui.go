// Package comfyui implements provider.Provider against a ComfyUI server.
//
// A request connects to the /ws event stream first, queues the workflow with
// POST /prompt, waits for the "executing" event with a null node for that
// prompt, then reads /history/{id} and downloads the first image via /view.
package comfyui

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/provider"
)

const (
	healthTimeout = 5 * time.Second
	maxImageBytes = 64 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration // whole request, including queue wait
	Model   string        // default model size
}

// Client is a ComfyUI provider. It supports image-to-image.
type Client struct {
	base     *url.URL
	timeout  time.Duration
	model    string
	clientID string
	http     *http.Client
	dialer   *websocket.Dialer
	maxImage int64
	log      *zap.Logger
}

var (
	_ provider.Provider    = (*Client)(nil)
	_ provider.Transformer = (*Client)(nil)
)

// New validates opts and constructs a Client.
func New(opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid comfyui url %q", errs.ErrValidation, opts.BaseURL)
	}
	if _, err := provider.LookupModel(opts.Model); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Client{
		base:     u,
		timeout:  opts.Timeout,
		model:    opts.Model,
		clientID: id.String(),
		http:     &http.Client{},
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxImage: maxImageBytes,
		log:      log.Named("comfyui"),
	}, nil
}

func (c *Client) Name() string { return "comfyui" }

// HealthCheck probes /system_stats.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/system_stats", nil), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate runs a text-to-image workflow.
func (c *Client) Generate(ctx context.Context, p model.GenerationParams) ([]byte, error) {
	m, err := c.lookup(p.Model)
	if err != nil {
		return nil, err
	}
	seed, err := seedOrRandom(p.Seed)
	if err != nil {
		return nil, err
	}
	wf := textToImage(m, samplerSettings{
		prompt:   p.Prompt,
		negative: p.NegativePrompt,
		steps:    p.Steps,
		cfg:      p.CFGScale,
		seed:     seed,
		denoise:  1.0,
	}, p.Width, p.Height)
	return c.run(ctx, wf)
}

// Transform uploads input and runs an image-to-image workflow with
// denoise = p.Strength.
func (c *Client) Transform(ctx context.Context, input []byte, p model.TransformParams) ([]byte, error) {
	if p.Strength <= 0 || p.Strength > 1 {
		return nil, fmt.Errorf("%w: strength must be in (0, 1], got %v", errs.ErrValidation, p.Strength)
	}
	m, err := c.lookup(p.Model)
	if err != nil {
		return nil, err
	}
	seed, err := seedOrRandom(p.Seed)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	name, err := c.upload(ctx, input)
	if err != nil {
		return nil, err
	}
	wf := imageToImage(m, samplerSettings{
		prompt:   p.Prompt,
		negative: p.NegativePrompt,
		steps:    p.Steps,
		cfg:      p.CFGScale,
		seed:     seed,
		denoise:  p.Strength,
	}, name)
	return c.run(ctx, wf)
}

func (c *Client) lookup(size string) (provider.ModelSpec, error) {
	if size == "" {
		size = c.model
	}
	return provider.LookupModel(size)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) run(ctx context.Context, wf workflow) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	// subscribe before queueing so the completion event cannot be missed
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	promptID, err := c.queue(ctx, wf)
	if err != nil {
		return nil, err
	}
	c.log.Debug("prompt queued", zap.String("prompt_id", promptID))

	if err := c.wait(ctx, conn, promptID); err != nil {
		return nil, err
	}
	img, err := c.history(ctx, promptID)
	if err != nil {
		return nil, err
	}
	data, err := c.view(ctx, img)
	if err != nil {
		return nil, err
	}
	c.log.Info("generation finished",
		zap.String("prompt_id", promptID),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientID}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect event stream: %w", errs.ErrGeneration, err)
	}
	return conn, nil
}

type queueResponse struct {
	PromptID string         `json:"prompt_id"`
	Error    any            `json:"error,omitempty"`
	Nodes    map[string]any `json:"node_errors,omitempty"`
}

func (c *Client) queue(ctx context.Context, wf workflow) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": wf, "client_id": c.clientID})
	if err != nil {
		return "", fmt.Errorf("%w: encode workflow: %w", errs.ErrGeneration, err)
	}
	var out queueResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("/prompt", nil), "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("%w: prompt rejected: %v", errs.ErrGeneration, out.Error)
	}
	return out.PromptID, nil
}

type wsEvent struct {
	Type string `json:"type"`
	Data struct {
		PromptID  string  `json:"prompt_id"`
		Node      *string `json:"node"`
		Exception string  `json:"exception_message"`
	} `json:"data"`
}

// wait reads events until promptID finishes. Binary preview frames are skipped.
func (c *Client) wait(ctx context.Context, conn *websocket.Conn, promptID string) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: waiting for prompt %s: %w", errs.ErrGeneration, promptID, ctx.Err())
			}
			return fmt.Errorf("%w: event stream: %w", errs.ErrGeneration, err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		var ev wsEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.log.Debug("skipping undecodable event", zap.Error(err))
			continue
		}
		if ev.Data.PromptID != promptID {
			continue
		}
		switch ev.Type {
		case "executing":
			if ev.Data.Node == nil {
				return nil
			}
		case "execution_error":
			return fmt.Errorf("%w: execution failed: %s", errs.ErrGeneration, ev.Data.Exception)
		}
	}
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

func (c *Client) history(ctx context.Context, promptID string) (imageRef, error) {
	var out map[string]historyEntry
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("/history/"+promptID, nil), "", nil, &out); err != nil {
		return imageRef{}, err
	}
	entry, ok := out[promptID]
	if !ok {
		return imageRef{}, fmt.Errorf("%w: no history for prompt %s", errs.ErrGeneration, promptID)
	}
	for _, o := range entry.Outputs {
		if len(o.Images) > 0 {
			img := o.Images[0]
			if img.Type == "" {
				img.Type = "output"
			}
			return img, nil
		}
	}
	return imageRef{}, fmt.Errorf("%w: no output image for prompt %s", errs.ErrGeneration, promptID)
}

func (c *Client) view(ctx context.Context, img imageRef) ([]byte, error) {
	q := url.Values{"filename": {img.Filename}, "subfolder": {img.Subfolder}, "type": {img.Type}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/view", q), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download image: %w", errs.ErrGeneration, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download image: status %d", errs.ErrGeneration, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
	if err != nil {
		return nil, fmt.Errorf("%w: download image: %w", errs.ErrGeneration, err)
	}
	if int64(len(data)) > c.maxImage {
		return nil, fmt.Errorf("%w: image larger than %d bytes", errs.ErrGeneration, c.maxImage)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", errs.ErrGeneration)
	}
	return data, nil
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
}

// upload stores input in ComfyUI's input folder and returns the name LoadImage expects.
func (c *Client) upload(ctx context.Context, input []byte) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "pixvault_"+id.String()+".png")
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if _, err := fw.Write(input); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}

	var out uploadResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("/upload/image", nil), mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	if out.Name == "" {
		return "", fmt.Errorf("%w: upload returned no name", errs.ErrGeneration)
	}
	if out.Subfolder != "" {
		return out.Subfolder + "/" + out.Name, nil
	}
	return out.Name, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", errs.ErrGeneration, method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", errs.ErrGeneration, method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", errs.ErrGeneration, req.URL.Path, err)
	}
	return nil
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawQuery = q.Encode()
	return u.String()
}

// seedOrRandom returns *seed or a random value in [0, 2^32).
func seedOrRandom(seed *int64) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errors.Join(errs.ErrGeneration, err)
	}
	return int64(binary.BigEndian.Uint32(b[:])), nil
}
