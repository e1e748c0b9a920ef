package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/limpopo/pkg/adapters/memory"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var colorQuestion = domain.MustQuestion("Favourite *color*?", domain.ChoiceList("Red", "Green", "Blue"), domain.WithColumnCount(3))

// stubDispatcher records dispatched messages.
type stubDispatcher struct {
	mu   sync.Mutex
	got  []domain.Message
	who  []domain.Respondent
	fail error
}

func (d *stubDispatcher) Dispatch(_ context.Context, r domain.Respondent, msg domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, msg)
	d.who = append(d.who, r)
	return d.fail
}

func post(t *testing.T, h http.Handler, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/respondents/"+id+"/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func fetch(t *testing.T, h http.Handler, id string) []Envelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/respondents/"+id+"/messages", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var out []Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestGetHealth(t *testing.T) {
	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGetInfo(t *testing.T) {
	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil))

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "limpopo-http", resp["app"])
	assert.NotEmpty(t, resp["version"])
}

func TestGetSpec(t *testing.T) {
	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil))

	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/respondents/{id}/messages:")

	doc, err := loadSpec(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/respondents/{id}/events"))
}

func TestUndocumentedRoutes(t *testing.T) {
	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil), WithMetrics(prometheus.NewRegistry()))

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/openapi.yaml", http.StatusOK},
		{http.MethodGet, "/swagger", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPut, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestIsRouteMiss(t *testing.T) {
	doc, err := loadSpec(context.Background())
	require.NoError(t, err)
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)

	_, _, err = router.FindRoute(httptest.NewRequest(http.MethodGet, "/swagger", nil))
	require.Error(t, err)
	assert.True(t, isRouteMiss(err))

	_, _, err = router.FindRoute(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.False(t, isRouteMiss(errors.New("boom")))
}

func TestPostMessage_RejectedBeforeDispatch(t *testing.T) {
	dispatcher := &stubDispatcher{}
	handler := NewHandler(dispatcher, NewTransport(0, nil))

	rr := post(t, handler, "1", `{"text":42}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, dispatcher.got)
}

func TestCORSPreflight(t *testing.T) {
	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil))

	req := httptest.NewRequest(http.MethodOptions, "/respondents/1/messages", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPostMessage_AssignsOrderedIDs(t *testing.T) {
	dispatcher := &stubDispatcher{}
	transport := NewTransport(0, nil)
	handler := NewHandler(dispatcher, transport)

	rr := post(t, handler, "7", `{"text":"/start","username":"ann"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	prompt, err := transport.Send(context.Background(), "7", domain.TextPayload("question"))
	require.NoError(t, err)

	rr = post(t, handler, "7", `{"text":"Red"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, dispatcher.got, 2)
	assert.Less(t, dispatcher.got[0].ID, prompt)
	assert.Greater(t, dispatcher.got[1].ID, prompt)
	assert.Equal(t, domain.MessengerWeb, dispatcher.who[0].Messenger)
	assert.Equal(t, "ann", dispatcher.who[0].Username)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(dispatcher.got[1].ID), resp["id"])
}

func TestPostMessage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fail   error
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "missing text", body: `{"username":"ann"}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"text":"hi","colour":"red"}`, status: http.StatusBadRequest},
		{name: "rejected input", body: `{"text":"hi"}`, fail: domain.ErrInvalidInput, status: http.StatusBadRequest},
		{name: "stopped service", body: `{"text":"hi"}`, fail: session.ErrStopped, status: http.StatusServiceUnavailable},
		{name: "dialog stopped", body: `{"text":"hi"}`, fail: domain.ErrDialogStopped, status: http.StatusServiceUnavailable},
		{name: "unexpected", body: `{"text":"hi"}`, fail: assert.AnError, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&stubDispatcher{fail: tt.fail}, NewTransport(0, nil))
			rr := post(t, handler, "1", tt.body)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestGetMessages_Drains(t *testing.T) {
	transport := NewTransport(0, nil)
	handler := NewHandler(&stubDispatcher{}, transport)

	_, err := transport.Send(context.Background(), "1", domain.Payload{
		Text:    "pick",
		Buttons: [][]domain.Button{{{Text: "A"}, {Text: "B"}}},
		Inline:  true,
	})
	require.NoError(t, err)

	got := fetch(t, handler, "1")
	require.Len(t, got, 1)
	assert.Equal(t, "pick", got[0].Text)
	assert.True(t, got[0].Inline)
	assert.Equal(t, "B", got[0].Buttons[0][1].Text)

	assert.Empty(t, fetch(t, handler, "1"))
	assert.Empty(t, fetch(t, handler, "2"))
}

func TestTransport_OutboxBound(t *testing.T) {
	transport := NewTransport(2, nil)
	for _, text := range []string{"a", "b", "c"} {
		_, err := transport.Send(context.Background(), "1", domain.TextPayload(text))
		require.NoError(t, err)
	}

	got := transport.Drain("1")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}

func TestStreamManager_Unsubscribe(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, cancel := sm.Subscribe("1")
	assert.Equal(t, 1, sm.Subscribers("1"))

	sm.Broadcast("1", Envelope{ID: 1, Text: "x"})
	assert.Equal(t, "x", (<-ch).Text)

	cancel()
	cancel()
	assert.Equal(t, 0, sm.Subscribers("1"))
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeEvents(t *testing.T) {
	transport := NewTransport(0, nil)
	srv := httptest.NewServer(NewHandler(&stubDispatcher{}, transport))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/respondents/5/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	require.Eventually(t, func() bool { return transport.Streams().Subscribers("5") == 1 }, time.Second, 5*time.Millisecond)
	_, err = transport.Send(context.Background(), "5", domain.TextPayload("hello"))
	require.NoError(t, err)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {") {
			break
		}
	}
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &env))
	assert.Equal(t, "hello", env.Text)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "limpopo_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	handler := NewHandler(&stubDispatcher{}, NewTransport(0, nil), WithMetrics(reg))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "limpopo_test_total 1")
}

func TestEndToEnd_WebQuiz(t *testing.T) {
	store := memory.NewStore()
	transport := NewTransport(0, nil)
	answers := make(chan string, 1)

	quiz := func(ctx context.Context, d *session.Dialog) error {
		answer, err := d.Ask(ctx, colorQuestion)
		if err != nil {
			return err
		}
		answers <- answer.Text
		return d.TellText(ctx, "Thanks!")
	}
	svc, err := session.NewService(quiz, store, transport)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	handler := NewHandler(svc, transport)

	require.Equal(t, http.StatusAccepted, post(t, handler, "42", `{"text":"/start"}`).Code)

	var prompt []Envelope
	require.Eventually(t, func() bool {
		prompt = append(prompt, fetch(t, handler, "42")...)
		return len(prompt) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Favourite *color*?", prompt[0].Text)
	require.Len(t, prompt[0].Buttons, 1)
	assert.Len(t, prompt[0].Buttons[0], 3)

	require.Equal(t, http.StatusAccepted, post(t, handler, "42", `{"text":"Green"}`).Code)

	select {
	case got := <-answers:
		assert.Equal(t, "Green", got)
	case <-time.After(2 * time.Second):
		t.Fatal("answer was not delivered")
	}

	var rest []Envelope
	require.Eventually(t, func() bool {
		rest = append(rest, fetch(t, handler, "42")...)
		return len(rest) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Thanks!", rest[len(rest)-1].Text)

	steps, err := store.DialogSteps(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.Step{{Question: "Favourite color?", Answer: "Green"}}, steps)
}
