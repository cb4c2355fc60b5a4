package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voice-ly/voice.ly-backend/internal/auth"
	"github.com/Voice-ly/voice.ly-backend/internal/handler"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/mail"
	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
	"github.com/Voice-ly/voice.ly-backend/internal/store/memory"
	"github.com/Voice-ly/voice.ly-backend/internal/summary"
	"github.com/Voice-ly/voice.ly-backend/internal/tasks"
)

const testPassword = "Pwd#1234"

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Send(_ context.Context, m mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) last() mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs[len(o.msgs)-1]
}

type env struct {
	srv   *httptest.Server
	st    *memory.Store
	mail  *outbox
	queue *tasks.InProcess
}

func setup(t *testing.T, summarizerURL string, opts handler.Options) *env {
	t.Helper()
	log := logging.Nop{}
	st := memory.New()
	box := &outbox{}

	var sum summary.Summarizer
	if summarizerURL != "" {
		sum = summary.NewHTTPSummarizer(summarizerURL, 5*time.Second)
	}
	pipeline := summary.NewPipeline(st, sum, nil, log)
	mux := tasks.NewMux()
	mux.Handle(summary.JobType, pipeline.Handle)
	queue := tasks.NewInProcess(mux.Run, 1, 10*time.Millisecond, log)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	h := handler.New(
		service.NewUsers(st.Users()),
		service.NewSessions(st.Users(), issuer, nil, log),
		service.NewPasswordReset(st.Users(), box, "http://front.test", log),
		service.NewMeetings(st.Meetings(), queue, "http://meet.test", log),
		st, opts, log,
	)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = queue.Close(context.Background())
	})
	return &env{srv: srv, st: st, mail: box, queue: queue}
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func (e *env) register(t *testing.T, email string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/users", "", map[string]any{
		"firstName": "Test", "lastName": "User", "age": 30, "email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (e *env) login(t *testing.T, email string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func (e *env) createMeeting(t *testing.T, token, title string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/meetings", token, map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotEmpty(t, body["meetLink"])
	id, _ := body["id"].(string)
	return id
}

func participants(body map[string]any) []string {
	raw, _ := body["participants"].([]any)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		s, _ := p.(string)
		out = append(out, s)
	}
	return out
}

func TestMeetingLifecycle(t *testing.T) {
	e := setup(t, "", handler.Options{})

	ownerID := e.register(t, "u@t.com")
	ownerTok := e.login(t, "u@t.com")
	guestID := e.register(t, "g@t.com")
	guestTok := e.login(t, "g@t.com")

	id := e.createMeeting(t, ownerTok, "Standup")

	resp, body := e.do(t, http.MethodPost, "/meetings/"+id+"/join", guestTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{ownerID, guestID}, participants(body))
	assert.NotEmpty(t, body["meetLink"])

	resp, _ = e.do(t, http.MethodPost, "/meetings/"+id+"/end", ownerTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/meetings/"+id, ownerTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "finished", body["status"])
	assert.Equal(t, ownerID, body["ownerId"])
}

func TestJoinIsIdempotent(t *testing.T) {
	e := setup(t, "", handler.Options{})
	e.register(t, "u@t.com")
	ownerTok := e.login(t, "u@t.com")
	guestID := e.register(t, "g@t.com")
	guestTok := e.login(t, "g@t.com")
	id := e.createMeeting(t, ownerTok, "Standup")

	for i := 0; i < 3; i++ {
		resp, _ := e.do(t, http.MethodPost, "/meetings/"+id+"/join", guestTok, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	_, body := e.do(t, http.MethodGet, "/meetings/"+id, guestTok, nil)
	ps := participants(body)
	assert.Len(t, ps, 2)
	assert.Contains(t, ps, guestID)
}

func TestOwnerOnlyMutations(t *testing.T) {
	e := setup(t, "", handler.Options{})
	e.register(t, "u@t.com")
	ownerTok := e.login(t, "u@t.com")
	e.register(t, "g@t.com")
	guestTok := e.login(t, "g@t.com")
	id := e.createMeeting(t, ownerTok, "Standup")

	resp, _ := e.do(t, http.MethodPut, "/meetings/"+id, guestTok, map[string]string{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, "/meetings/"+id, guestTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/meetings/"+id+"/end", guestTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, body := e.do(t, http.MethodGet, "/meetings/"+id, guestTok, nil)
	assert.Equal(t, "Standup", body["title"])
	assert.Equal(t, "scheduled", body["status"])

	resp, _ = e.do(t, http.MethodPut, "/meetings/"+id, ownerTok, map[string]string{"title": "Retro", "ownerId": "someone"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = e.do(t, http.MethodGet, "/meetings/"+id, ownerTok, nil)
	assert.Equal(t, "Retro", body["title"])
	assert.NotEqual(t, "someone", body["ownerId"])

	resp, _ = e.do(t, http.MethodDelete, "/meetings/"+id, ownerTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/meetings/"+id, ownerTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	e := setup(t, "", handler.Options{})
	e.register(t, "u@t.com")
	tok := e.login(t, "u@t.com")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
	}{
		{"no session", http.MethodGet, "/meetings", "", nil, http.StatusUnauthorized},
		{"bad session", http.MethodGet, "/meetings", "garbage", nil, http.StatusUnauthorized},
		{"missing title", http.MethodPost, "/meetings", tok, map[string]string{}, http.StatusBadRequest},
		{"unknown meeting", http.MethodGet, "/meetings/missing", tok, nil, http.StatusNotFound},
		{"wrong password", http.MethodPost, "/login", "", map[string]string{"email": "u@t.com", "password": "Nope#1234"}, http.StatusUnauthorized},
		{"unknown user", http.MethodPost, "/login", "", map[string]string{"email": "x@t.com", "password": testPassword}, http.StatusUnauthorized},
		{"missing credentials", http.MethodPost, "/login", "", map[string]string{"email": "u@t.com"}, http.StatusBadRequest},
		{"weak password", http.MethodPost, "/users", "", map[string]any{
			"firstName": "A", "lastName": "B", "age": 20, "email": "w@t.com", "password": "password",
		}, http.StatusBadRequest},
		{"duplicate email", http.MethodPost, "/users", "", map[string]any{
			"firstName": "A", "lastName": "B", "age": 20, "email": "u@t.com", "password": testPassword,
		}, http.StatusBadRequest},
		{"federated not configured", http.MethodPost, "/social-auth", "", map[string]string{"idToken": "x"}, http.StatusInternalServerError},
		{"federated camel-case path", http.MethodPost, "/socialAuth", "", map[string]string{"idToken": "x"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := e.do(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode, body)
			if tc.status >= 400 {
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	e := setup(t, "", handler.Options{})
	resp, err := e.srv.Client().Post(e.srv.URL+"/login", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginWithoutSecret(t *testing.T) {
	log := logging.Nop{}
	st := memory.New()
	queue := tasks.NewInProcess(tasks.NewMux().Run, 1, 0, log)
	defer queue.Close(context.Background())
	h := handler.New(
		service.NewUsers(st.Users()),
		service.NewSessions(st.Users(), auth.NewIssuer("", time.Hour), nil, log),
		service.NewPasswordReset(st.Users(), &outbox{}, "", log),
		service.NewMeetings(st.Meetings(), queue, "http://meet.test", log),
		st, handler.Options{}, log,
	)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()
	e := &env{srv: srv, st: st}

	e.register(t, "u@t.com")
	resp, body := e.do(t, http.MethodPost, "/login", "", map[string]string{"email": "u@t.com", "password": testPassword})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["message"], "misconfigured")
}

func TestEndReturnsBeforeSummary(t *testing.T) {
	release := make(chan struct{})
	got := make(chan summary.Payload, 1)
	sum := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		var p summary.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		got <- p
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sum.Close()
	defer close(release)

	e := setup(t, sum.URL, handler.Options{})
	e.register(t, "u@t.com")
	tok := e.login(t, "u@t.com")
	id := e.createMeeting(t, tok, "Standup")

	start := time.Now()
	resp, _ := e.do(t, http.MethodPost, "/meetings/"+id+"/end", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-got:
		t.Fatal("summary submitted before release")
	default:
	}

	release <- struct{}{}
	select {
	case p := <-got:
		assert.Equal(t, id, p.MeetingID)
		require.Len(t, p.Participants, 1)
		assert.Equal(t, "u@t.com", p.Participants[0].Email)
	case <-time.After(5 * time.Second):
		t.Fatal("summary never submitted")
	}
}

var tokenRe = regexp.MustCompile(`token=([0-9a-f]{64})`)

func TestPasswordResetIsSingleUse(t *testing.T) {
	e := setup(t, "", handler.Options{})
	e.register(t, "u@t.com")

	resp, _ := e.do(t, http.MethodPost, "/forgot-password", "", map[string]string{"email": "nobody@t.com"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/forgot-password", "", map[string]string{"email": "u@t.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := tokenRe.FindStringSubmatch(e.mail.last().HTML)
	require.Len(t, m, 2)
	token := m[1]

	resp, _ = e.do(t, http.MethodPost, "/reset-password?token="+token, "", map[string]string{"password": "weak"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/reset-password?token="+token, "", map[string]string{"password": "New#Pass99"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/reset-password?token="+token, "", map[string]string{"password": "Other#Pass99"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/login", "", map[string]string{"email": "u@t.com", "password": "New#Pass99"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.CookieName {
			return c
		}
	}
	return nil
}

func TestSessionCookie(t *testing.T) {
	e := setup(t, "", handler.Options{CookieDomain: "example.test"})
	e.register(t, "u@t.com")

	login := func(proto string) *http.Response {
		b, _ := json.Marshal(map[string]string{"email": "u@t.com", "password": testPassword})
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/login", bytes.NewReader(b))
		if proto != "" {
			req.Header.Set("X-Forwarded-Proto", proto)
		}
		resp, err := e.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	t.Run("plain http", func(t *testing.T) {
		c := sessionCookie(login(""))
		require.NotNil(t, c)
		assert.True(t, c.HttpOnly)
		assert.False(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "example.test", c.Domain)
		assert.InDelta(t, 3600, c.MaxAge, 5)
	})

	t.Run("behind https proxy", func(t *testing.T) {
		c := sessionCookie(login("https"))
		require.NotNil(t, c)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	})

	t.Run("cookie authenticates", func(t *testing.T) {
		c := sessionCookie(login(""))
		req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/users/profile", nil)
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		resp, err := e.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var u map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
		assert.Equal(t, "u@t.com", u["email"])
		assert.NotContains(t, u, "password")
	})

	t.Run("logout clears", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/logout", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		resp, err := e.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		c := sessionCookie(resp)
		require.NotNil(t, c)
		assert.Empty(t, c.Value)
		assert.True(t, c.MaxAge < 0)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	})
}

func TestProfileLifecycle(t *testing.T) {
	e := setup(t, "", handler.Options{})
	e.register(t, "u@t.com")
	tok := e.login(t, "u@t.com")

	resp, _ := e.do(t, http.MethodPut, "/users/profile", tok, map[string]any{"firstName": "Ana", "lastName": ""})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body := e.do(t, http.MethodGet, "/users/profile", tok, nil)
	assert.Equal(t, "Ana", body["firstName"])
	assert.Equal(t, "User", body["lastName"])

	resp, _ = e.do(t, http.MethodDelete, "/users/profile", tok, map[string]string{"password": "Wrong#123"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, "/users/profile", tok, map[string]string{"password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/users/profile", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	e := setup(t, "", handler.Options{AllowedOrigins: []string{"http://app.test"}})

	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/meetings", nil)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")

	req.Header.Set("Origin", "http://evil.test")
	resp, err = e.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(0.001, 2)
	defer rl.Close()
	e := setup(t, "", handler.Options{Limiter: rl})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, _ := e.do(t, http.MethodPost, "/login", "", map[string]string{"email": "x@t.com", "password": "y"})
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	for _, path := range []string{"/social-auth", "/socialAuth"} {
		resp, _ := e.do(t, http.MethodPost, path, "", map[string]string{"idToken": "x"})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, path)
	}

	resp, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
