package rtsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"pantilt-remote/internal/debug"
)

// ErrNoVideo is returned when the stream has no usable video media.
var ErrNoVideo = errors.New("rtsp: no video media in stream")

// Config for the preview source
type Config struct {
	URL string

	// Timeouts for the RTSP session
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Upper bound on the delay between reconnect attempts
	MaxBackoff time.Duration
}

// DefaultConfig returns the settings used for camera previews.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxBackoff:   30 * time.Second,
	}
}

// Client pulls the camera preview over RTSP/TCP and hands out raw RTP
// packets. It reconnects with exponential backoff until closed.
type Client struct {
	cfg     Config
	url     *base.URL
	packets chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	client *gortsplib.Client
}

// NewClient validates the URL. No connection is made until Connect.
func NewClient(cfg Config) (*Client, error) {
	u, err := base.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: bad url: %w", err)
	}
	def := DefaultConfig(cfg.URL)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		url:     u,
		packets: make(chan []byte, 500),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect establishes the first session. Later drops are handled by the
// reconnect loop.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.supervise()
	return nil
}

func (c *Client) dial() error {
	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		OnDecodeError: func(err error) {
			debug.Verbose("RTSP: decode error: %v", err)
		},
	}

	if err := client.Start(c.url.Scheme, c.url.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(c.url)
	if err != nil {
		client.Close()
		return err
	}

	media := videoMedia(desc)
	if media == nil {
		client.Close()
		return ErrNoVideo
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		select {
		case c.packets <- buf:
		case <-c.ctx.Done():
		default:
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	debug.Info("RTSP: playing %s", c.url.Host)
	return nil
}

// videoMedia prefers H264/H265 and falls back to the first video media.
func videoMedia(desc *description.Session) *description.Media {
	for _, media := range desc.Medias {
		for _, f := range media.Formats {
			switch f.(type) {
			case *format.H264, *format.H265:
				return media
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media
		}
	}
	return nil
}

// supervise waits for the session to end and reconnects.
func (c *Client) supervise() {
	for {
		c.mu.Lock()
		client := c.client
		c.mu.Unlock()

		err := client.Wait()
		if c.ctx.Err() != nil {
			return
		}
		debug.Warn("RTSP: connection lost: %v", err)

		for attempt := 1; ; attempt++ {
			delay := Backoff(attempt, c.cfg.MaxBackoff)
			debug.Info("RTSP: reconnect attempt %d in %v", attempt, delay)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}

			if err := c.dial(); err != nil {
				debug.Warn("RTSP: reconnect failed: %v", err)
				continue
			}
			break
		}
	}
}

// Backoff returns the delay before reconnect attempt n (1-based):
// 1s, 2s, 4s, ... capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return max
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, max)
}

// Packets returns the channel of marshalled RTP packets. It is never
// closed; use Done to stop reading.
func (c *Client) Packets() <-chan []byte {
	return c.packets
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// URL returns the stream address.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Close stops the stream and the reconnect loop.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}
