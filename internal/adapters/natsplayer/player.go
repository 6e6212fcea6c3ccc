// Package natsplayer implements domain.Player over NATS request/reply.
//
// Each play call is a request on "<subject>.<destination>" answered by the
// voice worker that owns the destination once playback has finished.
package natsplayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	natspkg "github.com/nats-io/nats.go"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

type Config struct {
	URL     string
	Subject string
	// Timeout bounds one request when the job has no max duration.
	Timeout time.Duration
	// ReplyGrace is added on top of the job's max duration.
	ReplyGrace time.Duration
}

// PlayMessage is the request body sent to the voice worker.
type PlayMessage struct {
	Destination   string  `json:"destination"`
	Audio         []byte  `json:"audio,omitempty"`
	URL           string  `json:"url,omitempty"`
	Volume        float64 `json:"volume"`
	Normalize     bool    `json:"normalize"`
	MaxDurationMS int64   `json:"max_duration_ms,omitempty"`
}

// PlayReply is the voice worker's answer.
type PlayReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// requester is the part of *nats.Conn the player needs.
type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*natspkg.Msg, error)
}

type Player struct {
	cfg Config
	nc  requester
	log logx.Logger

	conn *natspkg.Conn // nil when built over a custom requester
}

var _ domain.Player = (*Player)(nil)

// Connect dials NATS and returns a player bound to the connection.
func Connect(cfg Config, log logx.Logger) (*Player, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = natspkg.DefaultURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	nc, err := natspkg.Connect(url,
		natspkg.Name("matchcall"),
		natspkg.MaxReconnects(-1),
		natspkg.DisconnectErrHandler(func(_ *natspkg.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		natspkg.ReconnectHandler(func(c *natspkg.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	p := newPlayer(cfg, nc, log)
	p.conn = nc
	return p, nil
}

func newPlayer(cfg Config, nc requester, log logx.Logger) *Player {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = "voice.play"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.ReplyGrace <= 0 {
		cfg.ReplyGrace = 15 * time.Second
	}
	return &Player{cfg: cfg, nc: nc, log: log}
}

// IsConnected reports the NATS connection status.
func (p *Player) IsConnected() bool {
	return p.conn != nil && p.conn.Status() == natspkg.CONNECTED
}

func (p *Player) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Subject returns the request subject for a destination key.
func (p *Player) Subject(destination string) string {
	return p.cfg.Subject + "." + SanitizeToken(destination)
}

func (p *Player) Play(ctx context.Context, req domain.PlayRequest) (bool, error) {
	body, err := json.Marshal(PlayMessage{
		Destination:   req.Destination,
		Audio:         req.Audio,
		URL:           req.URL,
		Volume:        req.Volume,
		Normalize:     req.Normalize,
		MaxDurationMS: req.MaxDuration.Milliseconds(),
	})
	if err != nil {
		return false, err
	}

	timeout := p.cfg.Timeout
	if req.MaxDuration > 0 {
		timeout = req.MaxDuration + p.cfg.ReplyGrace
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := p.nc.RequestWithContext(rctx, p.Subject(req.Destination), body)
	if err != nil {
		if errors.Is(err, natspkg.ErrNoResponders) {
			return false, fmt.Errorf("no voice worker for %s", req.Destination)
		}
		return false, err
	}
	var reply PlayReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decode play reply: %w", err)
	}
	if !reply.OK {
		if reply.Error != "" {
			return false, errors.New(reply.Error)
		}
		return false, nil
	}
	return true, nil
}

// SanitizeToken makes a destination key safe as a single NATS subject token.
func SanitizeToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
