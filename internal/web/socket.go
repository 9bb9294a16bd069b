package web

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/session"
	"github.com/cchalm/math-tutor/internal/sheet"
)

// Client to server event types
const (
	eventSubmit  = "submit"
	eventSimilar = "similar"
	eventReset   = "reset"
	eventRetry   = "retry"
)

// Server to client event types
const (
	eventState   = "state"
	eventTurn    = "turn"
	eventPartial = "partial"
	eventDone    = "done"
	eventError   = "error"
	eventSheet   = "sheet"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

var errRateLimited = errors.New("too many requests from this session")

type clientImage struct {
	MIMEType string `json:"mime"`
	Data     string `json:"data"` // Base64
}

type clientEvent struct {
	Type  string       `json:"type"`
	Text  string       `json:"text,omitempty"`
	Image *clientImage `json:"image,omitempty"`
}

type serverEvent struct {
	Type       string   `json:"type"`
	State      string   `json:"state,omitempty"`
	Role       string   `json:"role,omitempty"`
	HTML       string   `json:"html,omitempty"`
	Message    string   `json:"message,omitempty"`
	Formats    []string `json:"formats,omitempty"`
	ModelName  string   `json:"model,omitempty"`
	TurnCount  int      `json:"turns"`
	CanRetry   bool     `json:"canRetry"`
	CanSimilar bool     `json:"canSimilar"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// socketConn writes events to one websocket connection. Data frames are only written from the connection's handler
// goroutine.
type socketConn struct {
	conn *websocket.Conn
}

func (sc *socketConn) send(ev serverEvent) error {
	if err := sc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sc.conn.WriteJSON(ev)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	sess, ok := s.sessions.Get(cookie.Value)
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(int64(s.opts.MaxImageBytes)*4/3 + 64<<10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	sc := &socketConn{conn: conn}
	stopPing := s.keepAlive(conn)
	defer stopPing()

	// Pick up an exchange left pending by a previous connection
	if err := s.process(r, sess, sc); err != nil {
		return
	}
	if err := sc.send(stateEvent(sess)); err != nil {
		return
	}

	for {
		var ev clientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Error reading from session %s: %v", sess.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.handleEvent(r, sess, sc, ev); err != nil {
			log.Printf("Error writing to session %s: %v", sess.ID, err)
			return
		}
	}
}

// keepAlive pings the client until the returned function is called. Control frames may be written concurrently with
// other writes.
func (s *Server) keepAlive(conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// handleEvent applies one client event to the session. Only errors writing to the connection are returned; session
// errors are reported to the client.
func (s *Server) handleEvent(r *http.Request, sess *session.Session, sc *socketConn, ev clientEvent) error {
	var err error
	switch ev.Type {
	case eventReset:
		sess.Reset()
		return sc.send(stateEvent(sess))
	case eventSubmit:
		err = s.submit(sess, ev)
	case eventSimilar:
		err = s.limited(sess, sess.RequestSimilarProblem)
	case eventRetry:
		err = s.limited(sess, sess.Retry)
	default:
		err = fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		return sc.send(serverEvent{Type: eventError, Message: describe(err)})
	}

	view := sess.View()
	if ev.Type != eventRetry && len(view.Turns) > 0 {
		last := view.Turns[len(view.Turns)-1]
		if err := sc.send(turnEvent(last)); err != nil {
			return err
		}
	}
	if err := s.process(r, sess, sc); err != nil {
		return err
	}
	return sc.send(stateEvent(sess))
}

func (s *Server) submit(sess *session.Session, ev clientEvent) error {
	img, err := decodeImage(ev.Image, s.opts.MaxImageBytes)
	if err != nil {
		return err
	}
	return s.limited(sess, func() error { return sess.Submit(ev.Text, img) })
}

func (s *Server) limited(sess *session.Session, fn func() error) error {
	if !s.limiters.allow(sess.ID) {
		return errRateLimited
	}
	return fn()
}

// process runs the session's pending exchange, streaming rendered prefixes to the client
func (s *Server) process(r *http.Request, sess *session.Session, sc *socketConn) error {
	var writeErr error
	turn, err := sess.Process(r.Context(), func(prefix string) {
		if writeErr != nil {
			return
		}
		writeErr = sc.send(serverEvent{Type: eventPartial, HTML: string(renderMarkdown(prefix))})
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return sc.send(serverEvent{Type: eventError, Message: describe(err)})
	}
	if turn == nil {
		return nil
	}

	done := turnEvent(*turn)
	done.Type = eventDone
	if err := sc.send(done); err != nil {
		return err
	}
	if view := sess.View(); view.Sheet != nil {
		return sc.send(serverEvent{Type: eventSheet, Formats: sheet.Formats})
	}
	return nil
}

func stateEvent(sess *session.Session) serverEvent {
	view := sess.View()
	ev := serverEvent{
		Type:       eventState,
		State:      view.State.String(),
		Message:    view.Error,
		ModelName:  view.ModelName,
		TurnCount:  len(view.Turns),
		CanRetry:   view.CanRetry,
		CanSimilar: view.CanRequestSimilar,
	}
	if view.Sheet != nil {
		ev.Formats = sheet.Formats
	}
	return ev
}

func turnEvent(turn conversation.Turn) serverEvent {
	text := turn.Content.Text
	if turn.Content.Image != nil {
		text = "🖼️ " + text
	}
	return serverEvent{
		Type: eventTurn,
		Role: string(turn.Role),
		HTML: string(renderMarkdown(text)),
	}
}

// decodeImage validates an uploaded picture by decoding its header
func decodeImage(ci *clientImage, maxBytes int) (*conversation.Image, error) {
	if ci == nil || ci.Data == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(ci.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadImage, err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d", errBadImage, len(data), maxBytes)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadImage, err)
	}
	// The decoder registry is process-wide, so other formats may decode here too
	mimeType := "image/" + format
	if !conversation.SupportedImageType(mimeType) {
		return nil, fmt.Errorf("%w: unsupported format %s", errBadImage, format)
	}
	return &conversation.Image{MIMEType: mimeType, Data: data}, nil
}

var errBadImage = errors.New("unreadable image")

// describe turns a session or exchange error into the message shown to the student
func describe(err error) string {
	switch {
	case errors.Is(err, errRateLimited):
		return "⚠️ 送信が多すぎます。少し待ってから試してください。"
	case errors.Is(err, errBadImage):
		return "画像を読み込めませんでした。PNG または JPEG の画像を選んでください。"
	case errors.Is(err, session.ErrBusy):
		return "回答を作成中です。少し待ってください。"
	case errors.Is(err, session.ErrEmptyMessage):
		return "質問を入力してください。"
	case errors.Is(err, session.ErrNothingToRetry):
		return "再送信する質問がありません。"
	case errors.Is(err, session.ErrNoProblemYet):
		return "まず問題を質問して、回答を受け取ってください。"
	default:
		return ai.Describe(err)
	}
}
