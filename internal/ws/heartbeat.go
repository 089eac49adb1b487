package ws

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrHeartbeatTimeout is reported when the server stops sending anything for
// longer than the negotiated interval allows.
var ErrHeartbeatTimeout = errors.New("ws: server heart-beat timeout")

// HeartbeatConfig holds heart-beat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // what the client offers to send and asks to receive (default: 10s)
	Timeout  time.Duration // grace added to the server's interval before the link is declared dead (default: 5s)
}

// DefaultHeartbeatConfig returns the heart-beat settings used when none are
// configured.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// header renders the CONNECT heart-beat header value.
func (h HeartbeatConfig) header() string {
	ms := h.Interval.Milliseconds()
	return fmt.Sprintf("%d,%d", ms, ms)
}

// negotiate computes the send and receive intervals from the client offer and
// the server's CONNECTED heart-beat header. Zero disables that direction.
func negotiate(offer HeartbeatConfig, serverHeader string) (send, recv time.Duration) {
	sx, sy, ok := parseHeartbeat(serverHeader)
	if !ok || offer.Interval <= 0 {
		return 0, 0
	}
	if sy > 0 {
		send = maxDuration(offer.Interval, sy)
	}
	if sx > 0 {
		recv = maxDuration(offer.Interval, sx)
	}
	return send, recv
}

func parseHeartbeat(v string) (sx, sy time.Duration, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(v), ",")
	if !found {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0, false
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, true
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// startHeartbeat runs until the connection closes. It writes an end-of-line
// every send interval and calls onStale once if nothing has been read for
// recv plus the configured timeout.
func startHeartbeat(conn *Connection, send, recv, timeout time.Duration, onStale func(error)) {
	tick := send
	if tick == 0 || (recv > 0 && recv < tick) {
		tick = recv
	}
	if tick == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		var lastSent time.Time
		for {
			select {
			case <-conn.done:
				return
			case now := <-ticker.C:
				if recv > 0 && now.Sub(conn.LastRead()) > recv+timeout {
					log.Warn().Msgf("[ws] heart-beat timeout, last activity %s ago",
						now.Sub(conn.LastRead()).Round(time.Second))
					onStale(ErrHeartbeatTimeout)
					return
				}
				if send > 0 && now.Sub(lastSent) >= send {
					if err := conn.WriteHeartbeat(); err != nil {
						onStale(fmt.Errorf("ws: heart-beat write: %w", err))
						return
					}
					lastSent = now
				}
			}
		}
	}()
}
