package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/session"
	"github.com/cchalm/math-tutor/internal/sheet"
)

// streamingExchanger replies with the same fragments every time, or fails with err
type streamingExchanger struct {
	fragments []string
	err       error
}

func (se *streamingExchanger) Exchange(ctx context.Context, handle *ai.ModelHandle, conv *conversation.Conversation, onPartial func(string)) (conversation.Turn, error) {
	if se.err != nil {
		return conversation.Turn{}, se.err
	}
	var reply strings.Builder
	for _, f := range se.fragments {
		reply.WriteString(f)
		if onPartial != nil {
			onPartial(reply.String())
		}
	}
	turn := conversation.NewModelTurn(reply.String())
	conv.Append(turn)
	return turn, nil
}

func newTestServer(t *testing.T, ex *streamingExchanger, serverKey string, opts Options) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(session.Options{
		ServerAPIKey:       serverKey,
		SimilarInstruction: "similar please",
		TTL:                time.Hour,
		Connect: func(ctx context.Context, apiKey string) (*ai.ModelHandle, session.Exchanger, error) {
			return &ai.ModelHandle{Name: "gemini-1.5-flash"}, ex, nil
		},
	})
	opts.Export.FontPath = ""
	server := httptest.NewServer(NewServer(manager, opts).Handler())
	t.Cleanup(server.Close)
	return server, manager
}

func sessionCookie(t *testing.T, server *httptest.Server) *http.Cookie {
	t.Helper()
	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func get(t *testing.T, url string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func dial(t *testing.T, server *httptest.Server, cookie *http.Cookie) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Add("Cookie", cookie.String())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) serverEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev serverEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestIndex_CreatesSession(t *testing.T) {
	server, manager := newTestServer(t, &streamingExchanger{}, "server-key", DefaultOptions())

	cookie := sessionCookie(t, server)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, 1, manager.Len())

	// The same cookie keeps the same session
	resp := get(t, server.URL+"/", cookie)
	body := readBody(t, resp)
	assert.Equal(t, 1, manager.Len())
	assert.Contains(t, body, "高校数学 AIチューター")
	assert.Contains(t, body, "サーバーキー使用中")
	assert.NotContains(t, body, `name="api_key"`)
}

func TestIndex_AsksForKeyWithoutServerKey(t *testing.T) {
	server, _ := newTestServer(t, &streamingExchanger{}, "", DefaultOptions())

	resp := get(t, server.URL+"/", nil)
	body := readBody(t, resp)
	assert.Contains(t, body, `name="api_key"`)
	assert.Contains(t, body, "Gemini APIキーを入力")
}

func TestCredential_StoresTrimmedKey(t *testing.T) {
	server, manager := newTestServer(t, &streamingExchanger{}, "", DefaultOptions())
	cookie := sessionCookie(t, server)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/credential", strings.NewReader(url.Values{"api_key": {"  key \n"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	sess, ok := manager.Get(cookie.Value)
	require.True(t, ok)
	assert.True(t, sess.View().HasCredential)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, &streamingExchanger{}, "key", DefaultOptions())

	resp := get(t, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(readBody(t, resp), "ok"))
}

func TestExport_NoSheet(t *testing.T) {
	server, _ := newTestServer(t, &streamingExchanger{}, "key", DefaultOptions())
	cookie := sessionCookie(t, server)

	for _, format := range sheet.Formats {
		resp := get(t, server.URL+"/export/"+format, cookie)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, format)
	}
	resp := get(t, server.URL+"/export/"+FormatTranscript, cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, server.URL+"/export/docx", cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExport_Sheet(t *testing.T) {
	ex := &streamingExchanger{fragments: []string{"Solve $x+1=3$\n", sheet.Marker, "\n$x=2$"}}
	server, manager := newTestServer(t, ex, "key", DefaultOptions())
	cookie := sessionCookie(t, server)

	sess, ok := manager.Get(cookie.Value)
	require.True(t, ok)
	require.NoError(t, sess.Submit("give me a problem", nil))
	_, err := sess.Process(context.Background(), nil)
	require.NoError(t, err)

	resp := get(t, server.URL+"/export/txt", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "practice_sheet.txt")
	body := readBody(t, resp)
	assert.Contains(t, body, "Solve $x+1=3$")
	assert.Contains(t, body, "$x=2$")

	resp = get(t, server.URL+"/export/pdf", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(readBody(t, resp), "%PDF-"))

	resp = get(t, server.URL+"/export/html", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "page-break-before")

	resp = get(t, server.URL+"/export/transcript", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "conversation.md")
	assert.Contains(t, readBody(t, resp), "give me a problem")
}

func TestSocket_RequiresSession(t *testing.T) {
	server, _ := newTestServer(t, &streamingExchanger{}, "key", DefaultOptions())

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocket_SubmitStreamsReply(t *testing.T) {
	ex := &streamingExchanger{fragments: []string{"Think about ", "the **slope**."}}
	server, manager := newTestServer(t, ex, "key", DefaultOptions())
	cookie := sessionCookie(t, server)
	conn := dial(t, server, cookie)

	ev := readEvent(t, conn)
	assert.Equal(t, eventState, ev.Type)
	assert.Equal(t, "idle", ev.State)
	assert.Equal(t, 0, ev.TurnCount)

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSubmit, Text: "what is a derivative?"}))

	ev = readEvent(t, conn)
	assert.Equal(t, eventTurn, ev.Type)
	assert.Equal(t, "user", ev.Role)
	assert.Contains(t, ev.HTML, "what is a derivative?")

	ev = readEvent(t, conn)
	assert.Equal(t, eventPartial, ev.Type)
	assert.Contains(t, ev.HTML, "Think about")

	ev = readEvent(t, conn)
	assert.Equal(t, eventPartial, ev.Type)
	assert.Contains(t, ev.HTML, "<strong>slope</strong>")

	ev = readEvent(t, conn)
	assert.Equal(t, eventDone, ev.Type)
	assert.Equal(t, "model", ev.Role)

	ev = readEvent(t, conn)
	assert.Equal(t, eventState, ev.Type)
	assert.Equal(t, "response_ready", ev.State)
	assert.Equal(t, 2, ev.TurnCount)
	assert.True(t, ev.CanSimilar)
	assert.Equal(t, "gemini-1.5-flash", ev.ModelName)

	sess, ok := manager.Get(cookie.Value)
	require.True(t, ok)
	assert.Len(t, sess.View().Turns, 2)
}

func TestSocket_SimilarProducesSheet(t *testing.T) {
	ex := &streamingExchanger{fragments: []string{"Problem\n", sheet.Marker, "\nAnswer"}}
	server, _ := newTestServer(t, ex, "key", DefaultOptions())
	cookie := sessionCookie(t, server)
	conn := dial(t, server, cookie)
	readEvent(t, conn) // Initial state

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSimilar}))
	ev := readEvent(t, conn)
	assert.Equal(t, eventError, ev.Type)
	assert.Contains(t, ev.Message, "まず問題を質問")

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSubmit, Text: "q"}))
	for _, want := range []string{eventTurn, eventPartial, eventPartial, eventPartial, eventDone, eventSheet, eventState} {
		ev = readEvent(t, conn)
		require.Equal(t, want, ev.Type)
	}
	assert.Equal(t, sheet.Formats, ev.Formats)

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventReset}))
	ev = readEvent(t, conn)
	assert.Equal(t, eventState, ev.Type)
	assert.Equal(t, 0, ev.TurnCount)
	assert.Empty(t, ev.Formats)
}

func TestSocket_RateLimitErrorIsReported(t *testing.T) {
	ex := &streamingExchanger{err: &ai.RateLimitError{Model: "gemini-1.5-flash", Err: errors.New("googleapi: Error 429")}}
	server, _ := newTestServer(t, ex, "key", DefaultOptions())
	cookie := sessionCookie(t, server)
	conn := dial(t, server, cookie)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSubmit, Text: "q"}))
	assert.Equal(t, eventTurn, readEvent(t, conn).Type)

	ev := readEvent(t, conn)
	assert.Equal(t, eventError, ev.Type)
	assert.Contains(t, ev.Message, "429")

	ev = readEvent(t, conn)
	assert.Equal(t, eventState, ev.Type)
	assert.Equal(t, "idle", ev.State)
	assert.True(t, ev.CanRetry)
	assert.Equal(t, 1, ev.TurnCount)
}

func TestSocket_SessionRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.RequestsPerMinute = 0.001
	opts.Burst = 1
	server, _ := newTestServer(t, &streamingExchanger{fragments: []string{"a"}}, "key", opts)
	cookie := sessionCookie(t, server)
	conn := dial(t, server, cookie)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSubmit, Text: "first"}))
	for _, want := range []string{eventTurn, eventPartial, eventDone, eventState} {
		require.Equal(t, want, readEvent(t, conn).Type)
	}

	require.NoError(t, conn.WriteJSON(clientEvent{Type: eventSubmit, Text: "second"}))
	ev := readEvent(t, conn)
	assert.Equal(t, eventError, ev.Type)
	assert.Contains(t, ev.Message, "送信が多すぎます")
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	img, err := decodeImage(&clientImage{MIMEType: "image/png", Data: encoded}, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, buf.Bytes(), img.Data)

	img, err = decodeImage(nil, 0)
	assert.NoError(t, err)
	assert.Nil(t, img)

	_, err = decodeImage(&clientImage{Data: base64.StdEncoding.EncodeToString([]byte("not an image"))}, 0)
	assert.ErrorIs(t, err, errBadImage)

	_, err = decodeImage(&clientImage{Data: encoded}, 4)
	assert.ErrorIs(t, err, errBadImage)
}

func TestDecodeImage_RejectsGIF(t *testing.T) {
	var buf bytes.Buffer
	palette := color.Palette{color.Black, color.White}
	require.NoError(t, gif.Encode(&buf, image.NewPaletted(image.Rect(0, 0, 2, 2), palette), nil))

	_, err := decodeImage(&clientImage{MIMEType: "image/gif", Data: base64.StdEncoding.EncodeToString(buf.Bytes())}, 0)
	assert.ErrorIs(t, err, errBadImage)
}

func TestRenderMarkdown_KeepsMathIntact(t *testing.T) {
	out := string(renderMarkdown("Let $a_1 * b_2$ be **given**.\n\n$$x_{n+1} = x_n^2$$"))
	assert.Contains(t, out, "$a_1 * b_2$")
	assert.Contains(t, out, "$$x_{n+1} = x_n^2$$")
	assert.Contains(t, out, "<strong>given</strong>")
	assert.NotContains(t, out, "MTMATHSPAN")
}

func TestRenderMarkdown_EscapesHTML(t *testing.T) {
	out := string(renderMarkdown("Compare $a<b$ with <script>alert(1)</script>"))
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "$a&lt;b$")
}
