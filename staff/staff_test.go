package staff_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/events"
	"github.com/jrsteele09/go-clinic-session/internal/fakebackend"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/jrsteele09/go-clinic-session/staff"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "jane.doe@clinic.test"
	testPassword = "Password123"
	testClinicID = "clinic-1"
)

// testFixture holds a fake backend and a gateway wired to it
type testFixture struct {
	backend *fakebackend.Backend
	server  *httptest.Server
	store   credentials.Store[credentials.StaffCredential]
	bus     *events.Bus
	expired *events.Recorder
	gateway *staff.Gateway
}

func setupTestFixture(t *testing.T, backendOptions ...fakebackend.Option) *testFixture {
	t.Helper()

	backend := fakebackend.New(append([]fakebackend.Option{fakebackend.WithLogger(zerolog.Nop())}, backendOptions...)...)
	require.NoError(t, backend.AddStaff(testEmail, testPassword, credentials.User{
		ID:         "user-1",
		Name:       "Jane Doe",
		Role:       credentials.RoleClinicAdmin,
		ClinicID:   testClinicID,
		ClinicName: "Riverside Clinic",
	}))

	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	store := credentials.NewInMemoryStore[credentials.StaffCredential]()
	bus := events.NewBus(events.WithLogger(zerolog.Nop()))
	expired := &events.Recorder{}
	bus.Subscribe(expired.Listen)

	gateway, err := staff.NewGateway(server.URL, store, bus,
		staff.WithHTTPClient(server.Client()),
		staff.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	return &testFixture{
		backend: backend,
		server:  server,
		store:   store,
		bus:     bus,
		expired: expired,
		gateway: gateway,
	}
}

func (f *testFixture) login(t *testing.T) *credentials.StaffCredential {
	t.Helper()
	cred, err := f.gateway.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	return cred
}

func (f *testFixture) url(path string) string {
	return f.server.URL + path
}

type echoResponse struct {
	Subject string `json:"subject"`
	Token   string `json:"token"`
	Body    string `json:"body"`
}

func decodeEcho(t *testing.T, resp *http.Response) echoResponse {
	t.Helper()
	defer resp.Body.Close()
	var echo echoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&echo))
	return echo
}

func TestNewGateway_Validation(t *testing.T) {
	store := credentials.NewInMemoryStore[credentials.StaffCredential]()
	bus := events.NewBus()

	_, err := staff.NewGateway("", store, bus)
	require.Error(t, err)
	_, err = staff.NewGateway("http://localhost", nil, bus)
	require.Error(t, err)
	_, err = staff.NewGateway("http://localhost", store, nil)
	require.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t)

	cred := f.login(t)
	require.NotEmpty(t, cred.AccessToken)
	require.NotEmpty(t, cred.RefreshToken)
	require.Equal(t, testEmail, cred.User.Email)
	require.Equal(t, credentials.RoleClinicAdmin, cred.User.Role)

	stored, ok := f.store.Get()
	require.True(t, ok)
	require.Equal(t, *cred, *stored)
	require.True(t, f.gateway.IsAuthenticated())

	cached, ok := f.gateway.CachedUser()
	require.True(t, ok)
	require.Equal(t, "Riverside Clinic", cached.ClinicName)

	_, ok = cred.AccessExpiry()
	require.True(t, ok, "access tokens are JWTs carrying exp")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.gateway.Login(context.Background(), testEmail, "wrong")
	require.ErrorIs(t, err, staff.ErrInvalidCredentials)
	require.Equal(t, "Invalid email or password", transport.UserMessage(err))

	_, ok := f.store.Get()
	require.False(t, ok)
	require.Equal(t, 1, f.backend.Calls(transport.RouteStaffLogin), "login is not retried")
}

func TestLogin_NetworkFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.server.Close()

	_, err := f.gateway.Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, staff.ErrTransientNetwork)
}

func TestLogout_ClearsAndInvalidates(t *testing.T) {
	f := setupTestFixture(t)
	cred := f.login(t)

	f.gateway.Logout(context.Background())
	require.False(t, f.gateway.IsAuthenticated())
	require.Equal(t, 1, f.backend.Calls(transport.RouteStaffLogout))

	// The old token no longer works server-side
	req, err := http.NewRequest(http.MethodGet, f.url(fakebackend.RouteStaffEcho), nil)
	require.NoError(t, err)
	transport.SetBearer(req, cred.AccessToken)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.expired.Count(), "explicit logout is not a session expiry")
}

func TestLogout_ServerUnreachableStillClears(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.server.Close()

	f.gateway.Logout(context.Background())
	require.False(t, f.gateway.IsAuthenticated())
}

func TestClient_ParallelRequestsShareOneRefresh(t *testing.T) {
	f := setupTestFixture(t)
	old := f.login(t)
	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshDelay(50 * time.Millisecond)

	const parallel = 3
	statuses := make([]int, parallel)
	tokens := make([]string, parallel)
	errs := make([]error, parallel)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := f.gateway.Client().Get(context.Background(), f.url(fakebackend.RouteStaffEcho))
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
			var echo echoResponse
			errs[i] = json.NewDecoder(resp.Body).Decode(&echo)
			tokens[i] = echo.Token
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, f.backend.Calls(transport.RouteStaffRefresh), "refresh endpoint must be called once")

	current, ok := f.store.Get()
	require.True(t, ok)
	require.NotEqual(t, old.AccessToken, current.AccessToken)
	require.NotEqual(t, old.RefreshToken, current.RefreshToken)

	for i := 0; i < parallel; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
		require.Equal(t, current.AccessToken, tokens[i])
	}
	require.Zero(t, f.expired.Count())
}

func TestClient_RefreshFailureEndsSessionOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshFailure(http.StatusBadRequest)
	f.backend.SetRefreshDelay(20 * time.Millisecond)

	const parallel = 5
	statuses := make([]int, parallel)
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.gateway.Client().Get(context.Background(), f.url(fakebackend.RouteStaffEcho))
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	for _, status := range statuses {
		require.Equal(t, http.StatusUnauthorized, status, "callers receive the original 401")
	}
	_, ok := f.store.Get()
	require.False(t, ok, "credential store must be empty")
	require.Equal(t, 1, f.expired.Count(), "exactly one session-expired event")
	require.Equal(t, events.SchemeStaff, f.expired.Events()[0].Scheme)
	require.Equal(t, 1, f.backend.Calls(transport.RouteStaffRefresh))
}

func TestClient_NonUnauthorizedPassesThrough(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	for _, code := range []string{"200", "403", "404", "500"} {
		resp, err := f.gateway.Client().Get(context.Background(), f.url("/status/"+code))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, code, strings.Fields(resp.Status)[0])
	}
	require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
}

func TestClient_RetriesAtMostOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	resp, err := f.gateway.Client().Get(context.Background(), f.url("/status/401"))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "second 401 is surfaced as-is")
	require.Equal(t, 2, f.backend.Calls("/status/401"), "original request plus one retry")
	require.Equal(t, 1, f.backend.Calls(transport.RouteStaffRefresh))
	require.True(t, f.gateway.IsAuthenticated(), "a successful refresh keeps the session")
	require.Zero(t, f.expired.Count())
}

func TestClient_AnonymousUnauthorizedDoesNotRefresh(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.gateway.Client().Get(context.Background(), f.url("/status/401"))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
	require.Zero(t, f.expired.Count())
}

func TestClient_CallerAuthorizationIsKept(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	req, err := http.NewRequest(http.MethodGet, f.url(fakebackend.RouteStaffEcho), nil)
	require.NoError(t, err)
	transport.SetBearer(req, "someone-elses-token")

	resp, err := f.gateway.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
	require.True(t, f.gateway.IsAuthenticated())
}

func TestClient_RetryResendsBody(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.ExpireAccessTokens()

	// io.NopCloser hides the reader type, so the body is not replayable on its own
	req, err := http.NewRequest(http.MethodPost, f.url(fakebackend.RouteStaffEcho), io.NopCloser(strings.NewReader(`{"note":"hello"}`)))
	require.NoError(t, err)

	resp, err := f.gateway.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"note":"hello"}`, decodeEcho(t, resp).Body)
}

func TestClient_SendJSON(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	resp, err := f.gateway.Client().SendJSON(context.Background(), http.MethodPut, f.url(fakebackend.RouteStaffEcho), map[string]string{"name": "x"})
	require.NoError(t, err)
	echo := decodeEcho(t, resp)
	require.Equal(t, testEmail, echo.Subject)
	require.JSONEq(t, `{"name":"x"}`, echo.Body)
}

func TestClient_NetworkErrorReturnedUnchanged(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.server.Close()

	_, err := f.gateway.Client().Get(context.Background(), f.url(fakebackend.RouteStaffEcho))
	require.Error(t, err)
	require.True(t, f.gateway.IsAuthenticated(), "a network failure is not a session failure")
}

func TestGetCurrentUser(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := setupTestFixture(t)
		user, err := f.gateway.GetCurrentUser(context.Background())
		require.NoError(t, err)
		require.Nil(t, user)
		require.Zero(t, f.backend.Calls(transport.RouteStaffMe))
	})

	t.Run("valid token", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t)
		user, err := f.gateway.GetCurrentUser(context.Background())
		require.NoError(t, err)
		require.Equal(t, "user-1", user.ID)
		require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
	})

	t.Run("expired token refreshes once", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t)
		f.backend.ExpireAccessTokens()

		user, err := f.gateway.GetCurrentUser(context.Background())
		require.NoError(t, err)
		require.Equal(t, testEmail, user.Email)
		require.Equal(t, 1, f.backend.Calls(transport.RouteStaffRefresh))
		require.Equal(t, 2, f.backend.Calls(transport.RouteStaffMe))
	})

	t.Run("refresh failure returns absence", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t)
		f.backend.ExpireAccessTokens()
		f.backend.SetRefreshFailure(http.StatusUnauthorized)

		user, err := f.gateway.GetCurrentUser(context.Background())
		require.NoError(t, err)
		require.Nil(t, user)
		require.False(t, f.gateway.IsAuthenticated())
		require.Equal(t, 1, f.expired.Count())
	})
}

func TestRefresh_DoesNotClearOnFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.backend.SetRefreshFailure(http.StatusUnauthorized)

	ok, err := f.gateway.Refresh(context.Background())
	require.False(t, ok)
	require.Error(t, err)
	require.True(t, f.gateway.IsAuthenticated(), "clearing is the coordinator's job")
	require.Zero(t, f.expired.Count())
}

func TestRefresh_ReplacesPairAtomically(t *testing.T) {
	f := setupTestFixture(t)
	old := f.login(t)

	ok, err := f.gateway.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	current, _ := f.store.Get()
	require.NotEqual(t, old.AccessToken, current.AccessToken)
	require.NotEqual(t, old.RefreshToken, current.RefreshToken)
	require.Equal(t, old.User, current.User, "user is kept when the refresh response omits it")

	// The stored refresh token is the one the server just issued
	ok, err = f.gateway.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefresh_WithoutSession(t *testing.T) {
	f := setupTestFixture(t)
	ok, err := f.gateway.Refresh(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, staff.ErrNotAuthenticated)
	require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
}

func TestTokenSource(t *testing.T) {
	t.Run("fresh token is used as-is", func(t *testing.T) {
		f := setupTestFixture(t)
		cred := f.login(t)

		token, err := f.gateway.TokenSource(context.Background()).Token()
		require.NoError(t, err)
		require.Equal(t, cred.AccessToken, token.AccessToken)
		require.Equal(t, "Bearer", token.TokenType)
		require.False(t, token.Expiry.IsZero())
		require.Zero(t, f.backend.Calls(transport.RouteStaffRefresh))
	})

	t.Run("expiring token is refreshed", func(t *testing.T) {
		f := setupTestFixture(t, fakebackend.WithAccessTTL(time.Second))
		cred := f.login(t)

		token, err := f.gateway.TokenSource(context.Background()).Token()
		require.NoError(t, err)
		require.NotEqual(t, cred.AccessToken, token.AccessToken)
		require.Equal(t, 1, f.backend.Calls(transport.RouteStaffRefresh))
	})

	t.Run("no session", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.gateway.TokenSource(context.Background()).Token()
		require.ErrorIs(t, err, staff.ErrNotAuthenticated)
	})
}

func TestStaffClient_NeverTouchesPatientNamespace(t *testing.T) {
	f := setupTestFixture(t)

	db, err := credentials.OpenSQLite(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	staffStore, err := credentials.NewSQLiteStore[credentials.StaffCredential](db, credentials.NamespaceStaff,
		credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	patientStore, err := credentials.NewSQLiteStore[credentials.PatientCredential](db, credentials.NamespacePatient,
		credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	gateway, err := staff.NewGateway(f.server.URL, staffStore, f.bus,
		staff.WithHTTPClient(f.server.Client()),
		staff.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	patientStore.Set(credentials.PatientCredential{
		SessionToken: "patient-session",
		Patient:      credentials.Patient{ID: "patient-1", Name: "Sam Patient"},
	})
	_, err = gateway.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshFailure(http.StatusBadRequest)

	resp, err := gateway.Client().Get(context.Background(), f.url(fakebackend.RouteStaffEcho))
	require.NoError(t, err)
	resp.Body.Close()

	require.False(t, gateway.IsAuthenticated(), "staff row cleared by the failed refresh")
	patient, ok := patientStore.Get()
	require.True(t, ok, "patient row in the same database survives")
	require.Equal(t, "patient-session", patient.SessionToken)
}

// startExpiredRequest sends a staff request whose 401 starts a slow refresh
// and returns once that refresh is in flight
func (f *testFixture) startExpiredRequest(t *testing.T) <-chan int {
	t.Helper()
	f.backend.ExpireAccessTokens()
	f.backend.SetRefreshDelay(100 * time.Millisecond)

	status := make(chan int, 1)
	go func() {
		resp, err := f.gateway.Client().Get(context.Background(), f.url(fakebackend.RouteStaffEcho))
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	require.Eventually(t, f.gateway.Coordinator().InProgress, time.Second, time.Millisecond)
	return status
}

func TestClient_LoginDuringRefreshIsKept(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	status := f.startExpiredRequest(t)

	fresh := f.login(t)

	require.Equal(t, http.StatusOK, <-status, "request is retried with the new login's token")
	current, ok := f.store.Get()
	require.True(t, ok, "new login must survive the superseded refresh")
	require.Equal(t, fresh.AccessToken, current.AccessToken)
	require.Equal(t, fresh.RefreshToken, current.RefreshToken)
	require.Zero(t, f.expired.Count())
}

func TestClient_LogoutDuringRefreshDoesNotBroadcast(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	status := f.startExpiredRequest(t)

	f.gateway.Logout(context.Background())

	require.Equal(t, http.StatusUnauthorized, <-status)
	require.False(t, f.gateway.IsAuthenticated())
	require.Zero(t, f.expired.Count(), "explicit logout is not a session expiry")
}

func TestGetCurrentUser_NetworkErrorKeepsCause(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gateway.GetCurrentUser(ctx)
	require.ErrorIs(t, err, staff.ErrTransientNetwork)
	require.ErrorIs(t, err, context.Canceled)
}
