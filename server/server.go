// Package server exposes chat sessions over WebSocket, one session per
// connection.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logging"
	"github.com/xhad/docchat/pkg/rag"
	"github.com/xhad/docchat/pkg/scraper"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is sent by the client.
type Message struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	// Data holds the base64 encoded file for upload messages.
	Data string `json:"data,omitempty"`
}

// Response is sent by the server.
type Response struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	TypeUpload = "upload"
	TypeFetch  = "fetch"
	TypeRemove = "remove"
	TypeClear  = "clear"
	TypeReset  = "reset"
	TypeAsk    = "ask"

	TypeAck      = "ack"
	TypeStatus   = "status"
	TypeStream   = "stream"
	TypeResponse = "response"
	TypeError    = "error"
)

const (
	CodeBadRequest         = "bad_request"
	CodeUnsupportedFormat  = "unsupported_format"
	CodeEmptyDocument      = "empty_document"
	CodeEmbeddingProvider  = "embedding_provider"
	CodeGenerationProvider = "generation_provider"
	CodeInternal           = "internal"
)

// SessionFactory creates the session backing a new connection.
type SessionFactory func() (*rag.Session, error)

type Config struct {
	Streaming bool
	// Scraper enables fetch messages when set.
	Scraper *scraper.Scraper
	Logger  *zap.SugaredLogger
}

type WSServer struct {
	config     Config
	newSession SessionFactory
	log        *zap.SugaredLogger
}

func NewWSServer(config Config, newSession SessionFactory) (*WSServer, error) {
	if newSession == nil {
		return nil, errors.New("session factory is required")
	}
	return &WSServer{
		config:     config,
		newSession: newSession,
		log:        logging.OrNop(config.Logger),
	}, nil
}

// Handler serves /ws and /health.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting WebSocket server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Infow("Shutting down WebSocket server")
		return srv.Shutdown(shutdownCtx)
	}
}

type connection struct {
	conn    *websocket.Conn
	session *rag.Session
	log     *zap.SugaredLogger
	closed  atomic.Bool
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session, err := s.newSession()
	if err != nil {
		s.log.Errorw("Failed to create session", "error", err)
		conn.WriteJSON(Response{Type: TypeError, Content: "failed to create session", Code: CodeInternal})
		return
	}

	c := &connection{
		conn:    conn,
		session: session,
		log:     s.log.With("remote", r.RemoteAddr),
	}
	c.log.Infow("Client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		if err := session.Reset(context.Background()); err != nil {
			c.log.Warnw("Failed to release session", "error", err)
		}
		c.log.Infow("Client disconnected")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warnw("Error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(Response{Type: TypeError, Content: "invalid message", Code: CodeBadRequest})
			continue
		}

		// Messages on one connection are handled in order.
		s.handleMessage(ctx, c, msg)
		if c.closed.Load() {
			return
		}
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *connection, msg Message) {
	switch msg.Type {
	case TypeUpload:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			c.send(Response{Type: TypeError, Content: "data must be base64 encoded", Code: CodeBadRequest})
			return
		}
		s.upload(ctx, c, msg.Filename, data)

	case TypeFetch:
		s.fetch(ctx, c, strings.TrimSpace(msg.Content))

	case TypeRemove:
		if err := c.session.RemoveDocument(ctx); err != nil {
			c.fail(err)
			return
		}
		c.send(Response{Type: TypeAck, Content: "document removed"})

	case TypeClear:
		c.session.ClearHistory()
		c.send(Response{Type: TypeAck, Content: "history cleared"})

	case TypeReset:
		if err := c.session.Reset(ctx); err != nil {
			c.fail(err)
			return
		}
		c.send(Response{Type: TypeAck, Content: "session reset"})

	case TypeAsk:
		s.ask(ctx, c, msg.Content)

	default:
		c.send(Response{Type: TypeError, Content: fmt.Sprintf("unknown message type %q", msg.Type), Code: CodeBadRequest})
	}
}

func (s *WSServer) upload(ctx context.Context, c *connection, filename string, data []byte) {
	doc, err := c.session.Upload(ctx, filename, data)
	if err != nil {
		c.fail(err)
		return
	}
	c.send(Response{
		Type:    TypeAck,
		Content: fmt.Sprintf("Indexed %s (%d chunks)", doc.Filename, doc.Chunks),
		Data:    map[string]interface{}{"filename": doc.Filename, "chunks": doc.Chunks},
	})
}

func (s *WSServer) fetch(ctx context.Context, c *connection, url string) {
	if s.config.Scraper == nil {
		c.send(Response{Type: TypeError, Content: "fetching is disabled", Code: CodeBadRequest})
		return
	}
	if url == "" {
		c.send(Response{Type: TypeError, Content: "url is required", Code: CodeBadRequest})
		return
	}

	c.send(Response{Type: TypeStatus, Content: fmt.Sprintf("Processing URL: %s", url)})
	pages, err := s.config.Scraper.Scrape(ctx, url)
	if err != nil {
		c.send(Response{Type: TypeError, Content: fmt.Sprintf("Failed to scrape URL: %v", err), Code: CodeBadRequest})
		return
	}
	c.send(Response{Type: TypeStatus, Content: fmt.Sprintf("Scraped %d pages", len(pages))})

	s.upload(ctx, c, scraper.Filename(url), []byte(scraper.Join(pages)))
}

func (s *WSServer) ask(ctx context.Context, c *connection, query string) {
	if !s.config.Streaming {
		answer, err := c.session.Ask(ctx, query)
		if err != nil {
			c.fail(err)
			return
		}
		c.send(Response{Type: TypeResponse, Content: answer})
		return
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for ev := range c.session.AskStream(askCtx, query) {
		switch ev.Type {
		case rag.EventFragment:
			if !c.send(Response{Type: TypeStream, Content: ev.Text}) {
				// Client is gone; stop generating and drain.
				cancel()
			}
		case rag.EventComplete:
			c.send(Response{Type: TypeResponse, Content: ev.Text})
		case rag.EventFailed:
			c.fail(ev.Err)
		}
	}
}

func (c *connection) send(resp Response) bool {
	if c.closed.Load() {
		return false
	}
	if err := c.conn.WriteJSON(resp); err != nil {
		c.log.Warnw("Error sending message", "error", err)
		c.closed.Store(true)
		return false
	}
	return true
}

func (c *connection) fail(err error) {
	code := errorCode(err)
	if code == CodeInternal {
		c.log.Errorw("Request failed", "error", err)
	} else {
		c.log.Infow("Request rejected", "code", code, "error", err)
	}
	c.send(Response{Type: TypeError, Content: err.Error(), Code: code})
}

func errorCode(err error) string {
	var unsupported *types.UnsupportedFormatError
	var embedding *types.EmbeddingProviderError
	var generation *types.GenerationProviderError

	switch {
	case errors.As(err, &unsupported):
		return CodeUnsupportedFormat
	case errors.Is(err, types.ErrEmptyDocument):
		return CodeEmptyDocument
	case errors.As(err, &embedding):
		return CodeEmbeddingProvider
	case errors.As(err, &generation):
		return CodeGenerationProvider
	case errors.Is(err, rag.ErrEmptyQuery):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
