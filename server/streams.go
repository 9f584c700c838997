package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/session"
)

// streamChunkSize is the payload size per stream/chunk notification, sized
// so a base64 chunk stays well under typical frame limits.
const streamChunkSize = 256 * 1024

// streamThreshold is the result size above which a caller may ask for
// streaming delivery instead of an inline payload.
const streamThreshold = 1 << 20

type streamChunk struct {
	StreamID string `json:"streamId"`
	Index    int    `json:"index"`
	Data     string `json:"data"`
	Offset   int    `json:"offset"`
	Size     int    `json:"size"`
}

type streamEnd struct {
	StreamID    string `json:"streamId"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int    `json:"totalSize"`
	Checksum    string `json:"checksum"`
}

type streamError struct {
	StreamID string `json:"streamId"`
	Message  string `json:"message"`
}

// startStream registers a stream for the payload and begins emitting chunks
// in the background. The immediate response carries the stream handle.
func (c *conn) startStream(contentType string, payload []byte) map[string]any {
	st := &session.Stream{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Data:        payload,
		ChunkSize:   streamChunkSize,
	}
	c.sess.AddStream(st)
	go c.emitStream(st)
	return map[string]any{
		"streamId":    st.ID,
		"contentType": contentType,
		"totalSize":   len(payload),
		"streaming":   true,
	}
}

// emitStream sends the chunk sequence, honouring cancellation between
// chunks, and terminates with stream/end carrying a sha256 checksum.
func (c *conn) emitStream(st *session.Stream) {
	defer c.sess.RemoveStream(st.ID)

	total := len(st.Data)
	index := 0
	for offset := 0; offset < total; offset += st.ChunkSize {
		cancelled, ok := c.streamCancelled(st.ID)
		if !ok {
			return
		}
		if cancelled {
			c.abortStream(st.ID, "cancelled by client")
			return
		}
		end := offset + st.ChunkSize
		if end > total {
			end = total
		}
		chunk := st.Data[offset:end]
		c.notifyEssential("stream/chunk", streamChunk{
			StreamID: st.ID,
			Index:    index,
			Data:     base64.StdEncoding.EncodeToString(chunk),
			Offset:   offset,
			Size:     len(chunk),
		})
		index++
		select {
		case <-c.done:
			return
		default:
		}
	}
	sum := sha256.Sum256(st.Data)
	c.notifyEssential("stream/end", streamEnd{
		StreamID:    st.ID,
		TotalChunks: index,
		TotalSize:   total,
		Checksum:    hex.EncodeToString(sum[:]),
	})
}

func (c *conn) streamCancelled(id string) (cancelled, ok bool) {
	return c.sess.StreamCancelled(id)
}

// abortStream reports a failed stream to the client.
func (c *conn) abortStream(id, message string) {
	c.sess.RemoveStream(id)
	c.notifyEssential("stream/error", streamError{StreamID: id, Message: message})
}

// handleStreamCancel drops an in-flight stream. Runs out-of-band.
func (s *Server) handleStreamCancel(_ context.Context, c *conn, params json.RawMessage) (any, error) {
	var p struct {
		StreamID string `json:"streamId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if !c.sess.CancelStream(p.StreamID) {
		return nil, protocol.ErrStreamNotFound(p.StreamID)
	}
	return map[string]any{"cancelled": true}, nil
}
