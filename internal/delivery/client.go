// Package delivery sends broadcast payloads through a regular Telegram
// user account via TDLib. The admin surface stays a bot; outgoing
// group posts come from the account that owns the session directory.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zelenin/go-tdlib/client"
	"golang.org/x/time/rate"

	"groupcast/internal/media"
	"groupcast/internal/snapshot"
	logx "groupcast/pkg/logx"
)

// ErrRateLimited reports that Telegram told us to slow down. The caller
// should back off instead of hammering the next destination.
var ErrRateLimited = errors.New("telegram: too many requests")

type Options struct {
	APIID      int32
	APIHash    string
	SessionDir string
	Cache      *media.Cache
	RatePerSec float64
	Timeout    time.Duration
	// Interactive switches TDLib authorization to console prompts for
	// the first login of a fresh session directory.
	Interactive bool
}

// Client is the user-account transport. Safe for use from multiple
// goroutines; sends are throttled by a shared limiter.
type Client struct {
	td      *client.Client
	log     logx.Logger
	cache   *media.Cache
	limiter *rate.Limiter
	timeout time.Duration
	selfID  int64

	mu    sync.Mutex
	chats map[string]int64
}

func New(opts Options, log logx.Logger) (*Client, error) {
	if opts.APIID == 0 || opts.APIHash == "" {
		return nil, errors.New("telegram api credentials are required")
	}

	dbDir := filepath.Join(opts.SessionDir, "database")
	filesDir := filepath.Join(opts.SessionDir, "files")
	for _, d := range []string{dbDir, filesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	if _, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	}); err != nil {
		log.Warn("tdlib verbosity", logx.Err(err))
	}

	params := &client.SetTdlibParametersRequest{
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		ApiId:               opts.APIID,
		ApiHash:             opts.APIHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "Server",
		SystemVersion:       "Linux",
		ApplicationVersion:  "1.0",
	}

	authorizer := client.ClientAuthorizer(params)
	if opts.Interactive {
		go client.CliInteractor(authorizer)
	}

	td, err := client.NewClient(authorizer)
	if err != nil {
		return nil, fmt.Errorf("tdlib client: %w", err)
	}

	me, err := td.GetMe()
	if err != nil {
		td.Close()
		return nil, fmt.Errorf("tdlib authorization check: %w", err)
	}
	log.Info("userbot session ready", logx.Int64("self_id", me.Id))

	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		td:      td,
		log:     log,
		cache:   opts.Cache,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		timeout: opts.Timeout,
		selfID:  me.Id,
		chats:   make(map[string]int64),
	}, nil
}

func (c *Client) Close() {
	c.td.Close()
}

// resolve maps a "@handle" destination to its chat id, caching hits so
// steady-state broadcasting does not keep searching public chats.
func (c *Client) resolve(dest string) (int64, error) {
	handle := strings.TrimPrefix(dest, "@")
	if handle == "" {
		return 0, fmt.Errorf("empty destination %q", dest)
	}

	c.mu.Lock()
	id, ok := c.chats[handle]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	chat, err := c.td.SearchPublicChat(&client.SearchPublicChatRequest{Username: handle})
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", dest, err)
	}

	c.mu.Lock()
	c.chats[handle] = chat.Id
	c.mu.Unlock()
	return chat.Id, nil
}

// Deliver sends one payload to one destination. It blocks on the rate
// limiter and bounds the whole attempt by the configured timeout.
func (c *Client) Deliver(ctx context.Context, dest string, p snapshot.Payload) error {
	if p.IsEmpty() {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatID, err := c.resolve(dest)
	if err != nil {
		return err
	}
	return c.send(ctx, chatID, c.content(p))
}

// Notify posts text to the account's own saved messages chat. Used as
// the logging sink, so it never fails loudly.
func (c *Client) Notify(text string) {
	_, err := c.td.SendMessage(&client.SendMessageRequest{
		ChatId: c.selfID,
		InputMessageContent: &client.InputMessageText{
			Text: &client.FormattedText{Text: text},
		},
	})
	if err != nil {
		c.log.Debug("saved messages notify failed", logx.Err(err))
	}
}

func (c *Client) content(p snapshot.Payload) client.InputMessageContent {
	if !p.HasMedia() {
		return &client.InputMessageText{
			Text:       formatted(p.Message, p.Entities),
			ClearDraft: true,
		}
	}
	caption := formatted(p.Message, p.CaptionEntities)
	if path, ok := c.localPath(p.Media); ok {
		return &client.InputMessagePhoto{
			Photo:   &client.InputFileLocal{Path: path},
			Caption: caption,
		}
	}
	// Not a blob of ours, so it is a remote file reference.
	return &client.InputMessageDocument{
		Document: &client.InputFileRemote{Id: p.Media},
		Caption:  caption,
	}
}

func (c *Client) localPath(ref string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	return c.cache.Resolve(ref)
}

// send runs the blocking TDLib call in a goroutine so the context
// deadline is honored even though TDLib itself takes no context.
func (c *Client) send(ctx context.Context, chatID int64, content client.InputMessageContent) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.td.SendMessage(&client.SendMessageRequest{
			ChatId:              chatID,
			InputMessageContent: content,
		})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		if isTooManyRequests(err) {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return err
	}
}

func isTooManyRequests(err error) bool {
	var tdErr *client.Error
	if errors.As(err, &tdErr) {
		if tdErr.Code == 429 {
			return true
		}
		if strings.Contains(strings.ToLower(tdErr.Message), "too many requests") {
			return true
		}
	}
	return false
}
