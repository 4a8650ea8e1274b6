package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-session/identity"
	"github.com/upb/auth-session/models"
	"github.com/upb/auth-session/utils"
	"go.uber.org/zap"
)

// MockIdentityClient is a mock implementation of IdentityClient
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) IsAuthenticated(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentityClient) GetTokenSilently(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityClient) GetUser(ctx context.Context) (*identity.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *MockIdentityClient) LoginWithRedirect(ctx context.Context, opts identity.RedirectLoginOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityClient) HandleRedirectCallback(ctx context.Context, query url.Values) error {
	args := m.Called(ctx, query)
	return args.Error(0)
}

func (m *MockIdentityClient) Logout(ctx context.Context, opts identity.LogoutOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

// recordingView captures every presentation call, optionally into a shared event log
type recordingView struct {
	disabled map[string]bool
	visible  map[string]bool
	text     map[string]string
	alerts   []string
	navigate []string
	replaced []string
	events   *eventLog
}

func newRecordingView(events *eventLog) *recordingView {
	return &recordingView{
		disabled: map[string]bool{},
		visible:  map[string]bool{},
		text:     map[string]string{},
		events:   events,
	}
}

func (v *recordingView) SetDisabled(id string, disabled bool) {
	v.disabled[id] = disabled
	v.events.add("disable:" + id)
}

func (v *recordingView) SetVisible(id string, visible bool) {
	v.visible[id] = visible
	v.events.add("visible:" + id)
}

func (v *recordingView) SetText(id, text string) {
	v.text[id] = text
	v.events.add("text:" + id)
}

func (v *recordingView) Alert(message string) {
	v.alerts = append(v.alerts, message)
	v.events.add("alert")
}

func (v *recordingView) Navigate(location string) {
	v.navigate = append(v.navigate, location)
	v.events.add("navigate")
}

func (v *recordingView) ReplaceURL(path string) {
	v.replaced = append(v.replaced, path)
	v.events.add("replace:" + path)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeClient is a stateful IdentityClient: a successful callback logs the user in
type fakeClient struct {
	mu            sync.Mutex
	authenticated bool
	callbackErr   error
	events        *eventLog
}

func (f *fakeClient) IsAuthenticated(ctx context.Context) (bool, error) {
	f.events.add("is_authenticated")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated, nil
}

func (f *fakeClient) GetTokenSilently(ctx context.Context) (string, error) {
	return "access-token", nil
}

func (f *fakeClient) GetUser(ctx context.Context) (*identity.User, error) {
	return &identity.User{Subject: "auth0|1"}, nil
}

func (f *fakeClient) LoginWithRedirect(ctx context.Context, opts identity.RedirectLoginOptions) (string, error) {
	return "https://idp/authorize", nil
}

func (f *fakeClient) HandleRedirectCallback(ctx context.Context, query url.Values) error {
	f.events.add("callback")
	if f.callbackErr != nil {
		return f.callbackErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = true
	return nil
}

func (f *fakeClient) Logout(ctx context.Context, opts identity.LogoutOptions) (string, error) {
	return "https://idp/v2/logout", nil
}

var testConfig = models.AuthConfig{
	Domain:      "dev-abc.us.auth0.com",
	ClientID:    "client-123",
	Audience:    "https://demo-api",
	APIEndpoint: "https://api.example.com/dev",
}

// configServer serves cfg at /auth_config.json and counts requests
func configServer(t *testing.T, cfg interface{}) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/auth_config.json" {
			http.NotFound(w, r)
			return
		}
		_ = utils.WriteJSON(w, http.StatusOK, cfg)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestController(t *testing.T, origin string, client IdentityClient) *Controller {
	t.Helper()
	c, err := NewController(Options{
		ConfigOrigin: origin,
		Factory: func(ctx context.Context, cfg models.AuthConfig) (IdentityClient, error) {
			return client, nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return c
}

// configuredController returns a controller whose session is already set
func configuredController(t *testing.T, client IdentityClient, endpoint string) *Controller {
	t.Helper()
	c := newTestController(t, "http://config.invalid", client)
	cfg := testConfig
	cfg.APIEndpoint = endpoint
	c.session.Store(&Session{Config: cfg, Client: client, Endpoint: endpoint})
	return c
}

func TestNewController(t *testing.T) {
	_, err := NewController(Options{})
	assert.Error(t, err)

	_, err = NewController(Options{ConfigOrigin: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestConfigure(t *testing.T) {
	t.Run("builds the client from exactly the loaded fields", func(t *testing.T) {
		server, hits := configServer(t, testConfig)

		var got models.AuthConfig
		client := new(MockIdentityClient)
		c, err := NewController(Options{
			ConfigOrigin: server.URL,
			Factory: func(ctx context.Context, cfg models.AuthConfig) (IdentityClient, error) {
				got = cfg
				return client, nil
			},
		})
		require.NoError(t, err)

		sess, err := c.Configure(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "dev-abc.us.auth0.com", got.Domain)
		assert.Equal(t, "client-123", got.ClientID)
		assert.Equal(t, "https://demo-api", got.Audience)
		assert.Equal(t, "https://api.example.com/dev", sess.Endpoint)
		assert.Same(t, client, sess.Client)

		again, err := c.Configure(context.Background())
		require.NoError(t, err)
		assert.Same(t, sess, again)
		assert.Equal(t, int32(1), atomic.LoadInt32(hits))

		_, ok := c.Session()
		assert.True(t, ok)
	})

	t.Run("trims a trailing slash from the api endpoint", func(t *testing.T) {
		cfg := testConfig
		cfg.APIEndpoint = "https://api.example.com/dev/"
		server, _ := configServer(t, cfg)

		c := newTestController(t, server.URL, new(MockIdentityClient))
		sess, err := c.Configure(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/dev", sess.Endpoint)
	})

	t.Run("fails on non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		c := newTestController(t, server.URL, new(MockIdentityClient))
		_, err := c.Configure(context.Background())
		assert.ErrorIs(t, err, ErrUnexpectedStatus)

		_, ok := c.Session()
		assert.False(t, ok)
	})

	t.Run("fails on malformed json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"domain":`))
		}))
		defer server.Close()

		c := newTestController(t, server.URL, new(MockIdentityClient))
		_, err := c.Configure(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode auth config")
	})

	t.Run("rejects incomplete config", func(t *testing.T) {
		server, _ := configServer(t, map[string]string{"domain": "dev-abc.us.auth0.com"})

		c := newTestController(t, server.URL, new(MockIdentityClient))
		_, err := c.Configure(context.Background())
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))
	})

	t.Run("factory errors are not cached", func(t *testing.T) {
		server, hits := configServer(t, testConfig)

		calls := 0
		client := new(MockIdentityClient)
		c, err := NewController(Options{
			ConfigOrigin: server.URL,
			Factory: func(ctx context.Context, cfg models.AuthConfig) (IdentityClient, error) {
				calls++
				if calls == 1 {
					return nil, errors.New("boom")
				}
				return client, nil
			},
		})
		require.NoError(t, err)

		_, err = c.Configure(context.Background())
		require.Error(t, err)

		sess, err := c.Configure(context.Background())
		require.NoError(t, err)
		assert.Same(t, client, sess.Client)
		assert.Equal(t, int32(2), atomic.LoadInt32(hits))
	})
}

func TestConfigure_Concurrency(t *testing.T) {
	// slowConfigServer holds every request until release is closed
	slowConfigServer := func(t *testing.T) (*httptest.Server, chan struct{}, chan struct{}) {
		t.Helper()
		started := make(chan struct{}, 10)
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started <- struct{}{}
			<-release
			_ = utils.WriteJSON(w, http.StatusOK, testConfig)
		}))
		t.Cleanup(server.Close)
		return server, started, release
	}

	t.Run("session lookup does not wait for a fetch in flight", func(t *testing.T) {
		server, started, release := slowConfigServer(t)
		c := newTestController(t, server.URL, new(MockIdentityClient))

		done := make(chan error, 1)
		go func() {
			_, err := c.Configure(context.Background())
			done <- err
		}()
		<-started

		lookup := make(chan bool, 1)
		go func() {
			_, ok := c.Session()
			lookup <- ok
		}()

		select {
		case ok := <-lookup:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Session() blocked on Configure")
		}

		close(release)
		require.NoError(t, <-done)
		_, ok := c.Session()
		assert.True(t, ok)
	})

	t.Run("waiting caller honours its context", func(t *testing.T) {
		server, started, release := slowConfigServer(t)
		defer close(release)
		c := newTestController(t, server.URL, new(MockIdentityClient))

		go func() { _, _ = c.Configure(context.Background()) }()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.Configure(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		server, hits := configServer(t, testConfig)
		c := newTestController(t, server.URL, new(MockIdentityClient))

		var wg sync.WaitGroup
		sessions := make([]*Session, 8)
		for i := range sessions {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sessions[i], _ = c.Configure(context.Background())
			}(i)
		}
		wg.Wait()

		for _, sess := range sessions {
			assert.Same(t, sessions[0], sess)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	})
}

func TestRefreshUI(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(false, nil)
		c := configuredController(t, client, "https://api")
		view := newRecordingView(nil)

		require.NoError(t, c.RefreshUI(context.Background(), c.session.Load(), view))

		assert.False(t, view.disabled[ElementLoginButton])
		assert.True(t, view.disabled[ElementLogoutButton])
		assert.True(t, view.disabled[ElementAPIButton])
		assert.False(t, view.visible[ElementGatedContent])
		assert.True(t, view.visible[ElementWelcome])
		assert.Empty(t, view.text)
		client.AssertNotCalled(t, "GetTokenSilently", mock.Anything)
	})

	t.Run("authenticated", func(t *testing.T) {
		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(true, nil)
		client.On("GetTokenSilently", mock.Anything).Return("access-token", nil)
		client.On("GetUser", mock.Anything).Return(&identity.User{
			Subject: "auth0|1",
			Claims:  map[string]interface{}{"sub": "auth0|1", "name": "Test User"},
		}, nil)
		c := configuredController(t, client, "https://api")
		view := newRecordingView(nil)

		require.NoError(t, c.RefreshUI(context.Background(), c.session.Load(), view))

		assert.True(t, view.disabled[ElementLoginButton])
		assert.False(t, view.disabled[ElementLogoutButton])
		assert.False(t, view.disabled[ElementAPIButton])
		assert.True(t, view.visible[ElementGatedContent])
		assert.False(t, view.visible[ElementWelcome])
		assert.Equal(t, "access-token", view.text[ElementAccessToken])
		assert.JSONEq(t, `{"sub":"auth0|1","name":"Test User"}`, view.text[ElementUserProfile])
		client.AssertExpectations(t)
	})

	t.Run("exactly one region visible", func(t *testing.T) {
		for _, authenticated := range []bool{true, false} {
			client := new(MockIdentityClient)
			client.On("IsAuthenticated", mock.Anything).Return(authenticated, nil)
			client.On("GetTokenSilently", mock.Anything).Return("tok", nil)
			client.On("GetUser", mock.Anything).Return(&identity.User{Subject: "auth0|1"}, nil)
			c := configuredController(t, client, "https://api")
			view := newRecordingView(nil)

			require.NoError(t, c.RefreshUI(context.Background(), c.session.Load(), view))
			assert.NotEqual(t, view.visible[ElementGatedContent], view.visible[ElementWelcome])
		}
	})

	t.Run("token failure propagates", func(t *testing.T) {
		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(true, nil)
		client.On("GetTokenSilently", mock.Anything).Return("", identity.ErrLoginRequired)
		c := configuredController(t, client, "https://api")

		err := c.RefreshUI(context.Background(), c.session.Load(), newRecordingView(nil))
		assert.ErrorIs(t, err, identity.ErrLoginRequired)
	})

	t.Run("requires a session", func(t *testing.T) {
		c := newTestController(t, "http://config.invalid", new(MockIdentityClient))
		err := c.RefreshUI(context.Background(), nil, newRecordingView(nil))
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestOnPageLoad(t *testing.T) {
	t.Run("plain load refreshes once and keeps the URL", func(t *testing.T) {
		server, _ := configServer(t, testConfig)
		events := &eventLog{}
		client := &fakeClient{events: events}
		c := newTestController(t, server.URL, client)
		view := newRecordingView(events)

		require.NoError(t, c.OnPageLoad(context.Background(), view, url.Values{}))

		assert.NotContains(t, events.all(), "callback")
		assert.Empty(t, view.replaced)
		assert.True(t, view.visible[ElementWelcome])
	})

	t.Run("code alone does not trigger the callback", func(t *testing.T) {
		server, _ := configServer(t, testConfig)
		events := &eventLog{}
		client := &fakeClient{events: events}
		c := newTestController(t, server.URL, client)
		view := newRecordingView(events)

		require.NoError(t, c.OnPageLoad(context.Background(), view, url.Values{"code": {"abc"}}))
		assert.NotContains(t, events.all(), "callback")
	})

	t.Run("redirect return completes login before the second refresh", func(t *testing.T) {
		server, _ := configServer(t, testConfig)
		events := &eventLog{}
		client := &fakeClient{events: events}
		c := newTestController(t, server.URL, client)
		view := newRecordingView(events)

		query := url.Values{"code": {"abc"}, "state": {"xyz"}}
		require.NoError(t, c.OnPageLoad(context.Background(), view, query))

		assert.Equal(t, []string{
			"is_authenticated",
			"disable:" + ElementLogoutButton,
			"disable:" + ElementAPIButton,
			"disable:" + ElementLoginButton,
			"visible:" + ElementGatedContent,
			"visible:" + ElementWelcome,
			"callback",
			"is_authenticated",
			"disable:" + ElementLogoutButton,
			"disable:" + ElementAPIButton,
			"disable:" + ElementLoginButton,
			"visible:" + ElementGatedContent,
			"visible:" + ElementWelcome,
			"text:" + ElementAccessToken,
			"text:" + ElementUserProfile,
			"replace:/",
		}, events.all())

		assert.Equal(t, []string{"/"}, view.replaced)
		assert.True(t, view.visible[ElementGatedContent])
	})

	t.Run("callback failure leaves the URL alone", func(t *testing.T) {
		server, _ := configServer(t, testConfig)
		events := &eventLog{}
		client := &fakeClient{events: events, callbackErr: identity.ErrInvalidState}
		c := newTestController(t, server.URL, client)
		view := newRecordingView(events)

		err := c.OnPageLoad(context.Background(), view, url.Values{"code": {"abc"}, "state": {"xyz"}})
		assert.ErrorIs(t, err, identity.ErrInvalidState)
		assert.Empty(t, view.replaced)
	})

	t.Run("configuration failure stops the sequence", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		events := &eventLog{}
		c := newTestController(t, server.URL, &fakeClient{events: events})

		err := c.OnPageLoad(context.Background(), newRecordingView(events), url.Values{})
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Empty(t, events.all())
	})
}

func TestLoginLogout(t *testing.T) {
	client := new(MockIdentityClient)
	client.On("LoginWithRedirect", mock.Anything, identity.RedirectLoginOptions{RedirectURI: "http://localhost:8080"}).
		Return("https://dev-abc.us.auth0.com/authorize?state=s", nil)
	client.On("Logout", mock.Anything, identity.LogoutOptions{ReturnTo: "http://localhost:8080"}).
		Return("https://dev-abc.us.auth0.com/v2/logout?client_id=client-123", nil)
	c := configuredController(t, client, "https://api")

	view := newRecordingView(nil)
	require.NoError(t, c.Login(context.Background(), view, "http://localhost:8080"))
	require.NoError(t, c.Logout(context.Background(), view, "http://localhost:8080"))

	assert.Equal(t, []string{
		"https://dev-abc.us.auth0.com/authorize?state=s",
		"https://dev-abc.us.auth0.com/v2/logout?client_id=client-123",
	}, view.navigate)
	client.AssertExpectations(t)

	t.Run("login error propagates", func(t *testing.T) {
		failing := new(MockIdentityClient)
		failing.On("LoginWithRedirect", mock.Anything, mock.Anything).Return("", identity.ErrNoSession)
		c := configuredController(t, failing, "https://api")

		view := newRecordingView(nil)
		err := c.Login(context.Background(), view, "http://localhost:8080")
		assert.ErrorIs(t, err, identity.ErrNoSession)
		assert.Empty(t, view.navigate)
	})
}

func TestCallProtectedAPI(t *testing.T) {
	t.Run("not authenticated makes no request", func(t *testing.T) {
		var hits int32
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		defer api.Close()

		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(false, nil)
		c := configuredController(t, client, api.URL)
		view := newRecordingView(nil)

		status, err := c.CallProtectedAPI(context.Background(), view)
		require.NoError(t, err)

		assert.Equal(t, 0, status)
		assert.Equal(t, []string{"You need to be logged in"}, view.alerts)
		assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
		client.AssertNotCalled(t, "GetTokenSilently", mock.Anything)
	})

	t.Run("authenticated call shows the nested message", func(t *testing.T) {
		var gotQuery, gotAuth, gotPath, gotContentType string
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")

			body, _ := json.Marshal(models.DemoMessage{Message: "Hello World From The Backend!"})
			_ = utils.WriteJSON(w, http.StatusOK, models.DemoEnvelope{StatusCode: 200, Body: string(body)})
		}))
		defer api.Close()

		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(true, nil)
		client.On("GetTokenSilently", mock.Anything).Return("access-token", nil)
		client.On("GetUser", mock.Anything).Return(&identity.User{Subject: "auth0|12 34"}, nil)
		c := configuredController(t, client, api.URL+"/dev")
		view := newRecordingView(nil)

		status, err := c.CallProtectedAPI(context.Background(), view)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "/dev/demo", gotPath)
		assert.Equal(t, "user_id=auth0%7C12%2034", gotQuery)
		assert.Equal(t, "Bearer access-token", gotAuth)
		assert.Equal(t, "application/json", gotContentType)
		assert.Equal(t, []string{"Hello World From The Backend!"}, view.alerts)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = utils.WriteUnauthorized(w, "")
		}))
		defer api.Close()

		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(true, nil)
		client.On("GetTokenSilently", mock.Anything).Return("access-token", nil)
		client.On("GetUser", mock.Anything).Return(&identity.User{Subject: "auth0|1"}, nil)
		c := configuredController(t, client, api.URL)
		view := newRecordingView(nil)

		status, err := c.CallProtectedAPI(context.Background(), view)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Empty(t, view.alerts)
	})

	t.Run("malformed nested body is an error", func(t *testing.T) {
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = utils.WriteJSON(w, http.StatusOK, models.DemoEnvelope{Body: "not json"})
		}))
		defer api.Close()

		client := new(MockIdentityClient)
		client.On("IsAuthenticated", mock.Anything).Return(true, nil)
		client.On("GetTokenSilently", mock.Anything).Return("access-token", nil)
		client.On("GetUser", mock.Anything).Return(&identity.User{Subject: "auth0|1"}, nil)
		c := configuredController(t, client, api.URL)

		_, err := c.CallProtectedAPI(context.Background(), newRecordingView(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode api response body")
	})
}
