package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxrelay/voxrelay/internal/call"
)

// writeTimeout bounds one egress WebSocket write. A gateway that cannot
// accept a 20 ms frame within this window is effectively gone.
const writeTimeout = 5 * time.Second

// Compile-time interface assertion.
var _ call.MediaSender = (*wsSender)(nil)

// wsSender delivers egress frames for one call over its media WebSocket. The
// write mutex serialises audio frames, clear events, and heartbeats, which
// may originate from different goroutines.
type wsSender struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSID string
}

func newWSSender(conn *websocket.Conn, streamSID string) *wsSender {
	return &wsSender{conn: conn, streamSID: streamSID}
}

// SendAudio transmits one μ-law frame as a base64 media event.
func (w *wsSender) SendAudio(frame []byte) error {
	return w.send(envelope{
		Event:     eventMedia,
		StreamSID: w.streamSID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// Clear instructs the gateway to flush its playout buffer.
func (w *wsSender) Clear() error {
	return w.send(envelope{Event: eventClear, StreamSID: w.streamSID})
}

// Heartbeat keeps the media socket alive between utterances.
func (w *wsSender) Heartbeat() error {
	return w.send(envelope{Event: eventHeartbeat, StreamSID: w.streamSID})
}

func (w *wsSender) send(env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("media: marshal %s event: %w", env.Event, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("media: write %s event: %w", env.Event, err)
	}
	return nil
}
