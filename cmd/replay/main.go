// Command replay streams a recorded PCM file to a running server as one
// spoken turn, followed by trailing silence, and saves any reply audio.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/turnloop/internal/turn"
)

type options struct {
	addr       string
	file       string
	sampleRate int
	chunk      time.Duration
	silence    time.Duration
	binary     bool
	tts        bool
	outDir     string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "localhost:8080", "server host:port")
	flag.StringVar(&opts.file, "file", "sample_audio.wav", "16-bit mono PCM or WAV file")
	flag.IntVar(&opts.sampleRate, "rate", 16000, "sample rate of the file")
	flag.DurationVar(&opts.chunk, "chunk", 100*time.Millisecond, "audio per chunk")
	flag.DurationVar(&opts.silence, "silence", 1500*time.Millisecond, "trailing silence to send")
	flag.BoolVar(&opts.binary, "binary", false, "send raw binary frames instead of JSON chunks")
	flag.BoolVar(&opts.tts, "tts", false, "ask the server to synthesize the reply")
	flag.StringVar(&opts.outDir, "out", "audio_responses", "directory for reply audio")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("Replay failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	raw, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.file, err)
	}
	pcm := stripWAVHeader(raw)
	logger.Info("Loaded audio",
		zap.String("file", opts.file),
		zap.Int("bytes", len(pcm)),
		zap.Duration("duration", turn.PCMDuration(pcm, opts.sampleRate)))

	query := url.Values{}
	query.Set("encoding", "pcm_s16le")
	query.Set("sample_rate", strconv.Itoa(opts.sampleRate))
	query.Set("tts", strconv.FormatBool(opts.tts))
	u := url.URL{Scheme: "ws", Host: opts.addr, Path: "/ws", RawQuery: query.Encode()}

	logger.Info("Connecting", zap.String("url", u.String()))
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- readReplies(c, opts.outDir, logger) }()

	frameBytes := chunkBytes(opts.chunk, opts.sampleRate)
	chunks := split(pcm, frameBytes)
	silence := make([]byte, frameBytes)
	for d := time.Duration(0); d < opts.silence; d += opts.chunk {
		chunks = append(chunks, silence)
	}

	ticker := time.NewTicker(opts.chunk)
	defer ticker.Stop()

	start := time.Now()
	for i, chunk := range chunks {
		if err := send(c, chunk, opts); err != nil {
			return fmt.Errorf("send chunk %d: %w", i, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return closeConn(c, done)
		case err := <-done:
			return err
		}
	}
	logger.Info("Finished sending audio",
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return closeConn(c, done)
	}
}

func send(c *websocket.Conn, chunk []byte, opts options) error {
	if opts.binary {
		return c.WriteMessage(websocket.BinaryMessage, chunk)
	}

	return c.WriteJSON(map[string]interface{}{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(chunk),
		"level_db":    turn.LevelDB(chunk),
		"duration_ms": turn.PCMDuration(chunk, opts.sampleRate).Milliseconds(),
		"timestamp":   time.Now().UnixMilli(),
	})
}

// readReplies logs server messages until the first turn completes. Reply
// audio is written to one file per turn.
func readReplies(c *websocket.Conn, outDir string, logger *zap.Logger) error {
	var (
		audioFile  *os.File
		audioBytes int
		turnSeen   bool
	)
	defer func() {
		if audioFile != nil {
			audioFile.Close()
		}
	}()

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			if audioFile == nil {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(outDir, fmt.Sprintf("%d.mp3", time.Now().Unix()))
				if audioFile, err = os.Create(path); err != nil {
					return err
				}
				logger.Info("Saving reply audio", zap.String("path", path))
			}
			if _, err := audioFile.Write(message); err != nil {
				return err
			}
			audioBytes += len(message)
			continue
		}

		var msg struct {
			Type      string `json:"type"`
			Text      string `json:"text"`
			Status    string `json:"status"`
			Reason    string `json:"reason"`
			Message   string `json:"message"`
			ClientTTS *bool  `json:"client_tts"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Unreadable message", zap.ByteString("message", message))
			continue
		}

		switch msg.Type {
		case "transcript":
			turnSeen = true
			logger.Info("Transcript", zap.String("text", msg.Text))
		case "reply":
			logger.Info("Reply", zap.String("text", msg.Text), zap.Boolp("clientTTS", msg.ClientTTS))
		case "status":
			logger.Info("Status",
				zap.String("status", msg.Status),
				zap.String("reason", msg.Reason),
				zap.String("message", msg.Message))
			if msg.Status == "listening" && turnSeen {
				logger.Info("Turn complete", zap.Int("audioBytes", audioBytes))
				return nil
			}
		default:
			logger.Info("Message", zap.String("type", msg.Type))
		}
	}
}

func closeConn(c *websocket.Conn, done <-chan error) error {
	err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

// stripWAVHeader drops a canonical 44-byte RIFF header if present
func stripWAVHeader(b []byte) []byte {
	if len(b) >= 44 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")) {
		return b[44:]
	}
	return b
}

// chunkBytes is the even byte count of d of 16-bit mono audio
func chunkBytes(d time.Duration, sampleRate int) int {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	if samples < 1 {
		samples = 1
	}
	return samples * 2
}

func split(b []byte, size int) [][]byte {
	var out [][]byte
	for start := 0; start < len(b); start += size {
		end := min(start+size, len(b)) &^ 1
		if end <= start {
			break
		}
		out = append(out, b[start:end])
	}
	return out
}
