package remote

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/pkg/core"
	"github.com/tabletrack/tracker/pkg/streaming"
)

// Pusher rate-limits outgoing position updates and picks the transport:
// the live channel when it is up, REST patches when it is not. Throttled
// batches are skipped outright; the next push carries current positions,
// so nothing is queued.
type Pusher struct {
	channel *Channel
	client  *Client
	scene   config.SceneConfig
	surfW   float64
	surfH   float64
	every   time.Duration
	last    time.Time
	logger  *slog.Logger
}

// NewPusher creates a pusher scaling surface coordinates onto the scene.
func NewPusher(channel *Channel, client *Client, scene config.SceneConfig, surfaceW, surfaceH float64, interval time.Duration, logger *slog.Logger) *Pusher {
	return &Pusher{
		channel: channel,
		client:  client,
		scene:   scene,
		surfW:   surfaceW,
		surfH:   surfaceH,
		every:   interval,
		logger:  logger,
	}
}

// ScenePosition converts a surface coordinate to integer scene pixels by
// linear scaling.
func (p *Pusher) ScenePosition(tok core.Token) (int, int) {
	x := int(math.Round(tok.SurfaceX / p.surfW * float64(p.scene.Width)))
	y := int(math.Round(tok.SurfaceY / p.surfH * float64(p.scene.Height)))
	return x, y
}

// Push sends one batch of resolved tokens. Batches arriving inside the
// throttle interval are skipped; the return value is how many updates
// went out.
func (p *Pusher) Push(ctx context.Context, now time.Time, tokens []core.Token) int {
	if !p.last.IsZero() && now.Sub(p.last) < p.every {
		return 0
	}
	p.last = now

	sent := 0
	for _, tok := range tokens {
		if tok.RemoteID == "" {
			continue
		}
		x, y := p.ScenePosition(tok)

		err := p.channel.Send(streaming.TokenUpdate{
			SceneID:    p.scene.ID,
			MarkerID:   tok.MarkerID,
			TokenID:    tok.RemoteID,
			X:          x,
			Y:          y,
			Confidence: tok.Confidence,
			Category:   string(tok.Category),
		})
		if err == ErrChannelDown {
			err = p.client.UpdateToken(ctx, tok.RemoteID, TokenPatch{X: x, Y: y})
		}
		if err != nil {
			p.logger.Warn("Token update failed", "markerId", tok.MarkerID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
