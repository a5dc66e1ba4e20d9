package jira

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/storage"
	"github.com/netresearch/timetracker-sub002/internal/tokencrypt"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  string
)

// testPrivateKeyPEM returns a PKCS1 PEM encoded RSA key shared by all tests
func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return testKeyPEM
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type authEnv struct {
	store     *storage.MemoryStore
	encryptor *tokencrypt.Service
	auth      *AuthService
	user      *models.User
	ts        *models.TicketSystem
}

func newAuthEnv(t *testing.T, baseURL string) *authEnv {
	t.Helper()

	encryptor, err := tokencrypt.New("test-secret")
	require.NoError(t, err)

	env := &authEnv{
		store:     storage.NewMemoryStore(),
		encryptor: encryptor,
		user:      &models.User{ID: 1, Username: "alice"},
		ts: &models.TicketSystem{
			ID:                  7,
			Name:                "Jira",
			Type:                models.TicketSystemTypeJira,
			BookTime:            true,
			URL:                 baseURL,
			Login:               "timetracker",
			OAuthConsumerSecret: testPrivateKeyPEM(t),
		},
	}
	env.store.AddUser(env.user)
	env.store.AddTicketSystem(env.ts)
	env.auth = NewAuthService(env.store, encryptor, func(ts *models.TicketSystem) string {
		return fmt.Sprintf("https://timetracker.example.com/oauth/jira/%d/callback", ts.ID)
	}, testLogger())
	return env
}

// connect stores an encrypted access token pair
func (e *authEnv) connect(t *testing.T, token, secret string) {
	t.Helper()
	encToken, err := e.encryptor.EncryptToken(token)
	require.NoError(t, err)
	encSecret, err := e.encryptor.EncryptToken(secret)
	require.NoError(t, err)
	require.NoError(t, e.store.SaveUserTicketsystem(context.Background(), &models.UserTicketsystem{
		UserID:         e.user.ID,
		TicketSystemID: e.ts.ID,
		AccessToken:    encToken,
		TokenSecret:    encSecret,
	}))
}

type apiCall struct {
	Method string
	Path   string
	Body   any
}

// fakeAPI is an in-memory API that records every call
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall

	get    func(path string) (*Response, error)
	post   func(path string, body any) (*Response, error)
	put    func(path string, body any) (*Response, error)
	delete func(path string) (*Response, error)
	exists func(path string) bool
}

func (f *fakeAPI) add(method, path string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Method: method, Path: path, Body: body})
}

func (f *fakeAPI) Get(_ context.Context, path string) (*Response, error) {
	f.add("GET", path, nil)
	if f.get == nil {
		return jsonResponse(`{}`), nil
	}
	return f.get(path)
}

func (f *fakeAPI) Post(_ context.Context, path string, body any) (*Response, error) {
	f.add("POST", path, body)
	if f.post == nil {
		return jsonResponse(`{}`), nil
	}
	return f.post(path, body)
}

func (f *fakeAPI) Put(_ context.Context, path string, body any) (*Response, error) {
	f.add("PUT", path, body)
	if f.put == nil {
		return jsonResponse(`{}`), nil
	}
	return f.put(path, body)
}

func (f *fakeAPI) Delete(_ context.Context, path string) (*Response, error) {
	f.add("DELETE", path, nil)
	if f.delete == nil {
		return jsonResponse(`{}`), nil
	}
	return f.delete(path)
}

func (f *fakeAPI) DoesResourceExist(_ context.Context, path string) bool {
	f.add("HEAD", path, nil)
	if f.exists == nil {
		return false
	}
	return f.exists(path)
}

func (f *fakeAPI) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method && (path == "" || c.Path == path) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) last(method string) *apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			c := f.calls[i]
			return &c
		}
	}
	return nil
}

func jsonResponse(body string) *Response {
	return &Response{StatusCode: 200, Body: json.RawMessage(body)}
}

// ticketExists answers GET issue/{key} for the given keys
func ticketExists(keys ...string) func(path string) (*Response, error) {
	return func(path string) (*Response, error) {
		for _, k := range keys {
			if path == "issue/"+k {
				return jsonResponse(fmt.Sprintf(`{"id":"10000","key":%q}`, k)), nil
			}
		}
		return nil, errNotFound()
	}
}

func errNotFound() error {
	return errors.NewJiraInvalidResourceError(errors.MsgResourceNotFound, nil)
}

type fakeAuthorizer struct {
	connected bool
	authErr   error
}

func (f *fakeAuthorizer) CheckUserTicketSystem(context.Context, *models.User, *models.TicketSystem) bool {
	return f.connected
}

func (f *fakeAuthorizer) Authenticate(context.Context, *models.User, *models.TicketSystem) error {
	return f.authErr
}

type syncRecorder struct {
	mu      sync.Mutex
	actions map[string]int
}

func (r *syncRecorder) RecordWorklogSync(action string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions = make(map[string]int)
	}
	r.actions[fmt.Sprintf("%s:%t", action, success)]++
}
