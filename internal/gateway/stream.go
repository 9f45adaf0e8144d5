package gateway

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/syedabdeen/minutevault/internal/audio"
	"github.com/syedabdeen/minutevault/internal/logging"
	"github.com/syedabdeen/minutevault/internal/recording"
	"github.com/syedabdeen/minutevault/internal/transcribe"
)

// mediaEvent is the browser client's stream protocol: a "start" event with
// the recording metadata, "media" events carrying base64 s16le PCM, and a
// "stop" event ending the recording.
type mediaEvent struct {
	Event string `json:"event"` // "start", "media", "stop"
	Start struct {
		Title      string `json:"title"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// handleStream owns one browser recording connection end to end. The
// controller's teardown runs on every exit path, so an abrupt disconnect
// releases the backend session.
func (g *Gateway) handleStream(ws *websocket.Conn) {
	streamID := uuid.NewString()
	logging.Info(logging.CategoryGateway, "stream connected id=%s", streamID)

	out := &wsSink{ws: ws}
	var (
		controller *recording.Controller
		handle     *audio.StreamHandle
	)
	defer func() {
		if controller != nil {
			controller.Teardown()
		}
		ws.Close()
		logging.Info(logging.CategoryGateway, "stream closed id=%s", streamID)
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info(logging.CategoryGateway, "stream disconnected id=%s", streamID)
			} else {
				logging.Warning(logging.CategoryGateway, "stream read error id=%s: %v", streamID, err)
			}
			return
		}

		var ev mediaEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			logging.Warning(logging.CategoryGateway, "stream sent malformed event id=%s: %v", streamID, err)
			continue
		}

		switch ev.Event {
		case "start":
			if controller != nil {
				out.sendError("a recording is already active on this stream")
				continue
			}

			rate := ev.Start.SampleRate
			if rate <= 0 {
				rate = g.cfg.SampleRate
			}
			channels := ev.Start.Channels
			if channels <= 0 {
				channels = 1
			}

			handle = audio.NewStreamHandle(rate, channels)
			controller = recording.NewController(fixedSource{handle: handle}, recording.SessionOptions{
				BackendURL:     g.cfg.BackendURL,
				Tokens:         g.tokens,
				ConnectTimeout: g.cfg.ConnectTimeout,
				MaxRetries:     g.cfg.MaxRetries,
				RetryBackoff:   g.cfg.RetryBackoff,
				CommitGrace:    g.cfg.CommitGrace,
				FrameInterval:  g.cfg.FrameInterval,
				SampleRate:     g.cfg.SampleRate,
				Sink:           out,
			})

			if err := controller.Start(context.Background(), ev.Start.Title); err != nil {
				logging.Warning(logging.CategoryGateway, "recording start failed id=%s: %v", streamID, err)
				out.sendError(err.Error())
				controller = nil
				handle = nil
				continue
			}

		case "media":
			if handle == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				logging.Warning(logging.CategoryGateway, "media payload decode failed id=%s: %v", streamID, err)
				continue
			}
			if !handle.Push(bytesToSamples(pcm)) {
				logging.Debug(logging.CategoryGateway, "dropped media chunk id=%s", streamID)
			}

		case "stop":
			if controller == nil {
				return
			}
			handle.Release()
			final, err := controller.Stop(context.Background())
			if err != nil {
				out.sendError(err.Error())
				return
			}
			out.sendFinal(final)
			return

		default:
			logging.Debug(logging.CategoryGateway, "unknown stream event id=%s event=%q", streamID, ev.Event)
		}
	}
}

// fixedSource hands out a pre-built capture handle; the microphone itself
// lives in the browser.
type fixedSource struct {
	handle *audio.StreamHandle
}

func (s fixedSource) Acquire(ctx context.Context, c audio.Constraints) (audio.Handle, error) {
	return s.handle, nil
}

// wsSink pushes live session output back to the browser. Writes are
// serialized because fiber websocket connections are not safe for
// concurrent writers.
type wsSink struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *wsSink) send(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.WriteJSON(v); err != nil {
		logging.Debug(logging.CategoryGateway, "stream push failed: %v", err)
	}
}

func (s *wsSink) OnPhase(phase transcribe.Phase) {
	s.send(map[string]interface{}{"type": "phase", "phase": phase})
}

func (s *wsSink) OnPartial(text string) {
	s.send(map[string]interface{}{"type": "partial", "text": text})
}

func (s *wsSink) OnCommitted(seg transcribe.Segment) {
	s.send(map[string]interface{}{"type": "segment", "segment": seg})
}

func (s *wsSink) sendError(msg string) {
	s.send(map[string]interface{}{"type": "error", "error": msg})
}

func (s *wsSink) sendFinal(final *recording.FinalTranscript) {
	s.send(map[string]interface{}{"type": "final", "transcript": final})
}

// bytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
