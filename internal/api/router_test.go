package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/auth"
	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/middleware"
	"github.com/locolive/socialgraph/internal/repository"
)

type nopPublisher struct{}

func (nopPublisher) Publish(...domain.NotificationEvent) {}

type fakeDisconnector struct {
	calls []uuid.UUID
}

func (d *fakeDisconnector) Disconnect(userID uuid.UUID) int {
	d.calls = append(d.calls, userID)
	return 2
}

type apiFixture struct {
	handler      http.Handler
	jwt          *auth.JWTManager
	disconnector *fakeDisconnector
}

func newAPIFixture(t *testing.T, limiter *middleware.RateLimiter) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	jwtManager := auth.NewJWTManager("secret", "locolive", time.Minute)
	disconnector := &fakeDisconnector{}

	router := NewRouter(RouterConfig{
		FriendHandler:   NewFriendHandler(domain.NewGraphService(repo, nopPublisher{}, logger), logger),
		GroupHandler:    NewGroupHandler(domain.NewMembershipService(repo, nopPublisher{}, logger), logger),
		RealtimeHandler: NewRealtimeHandler(disconnector, logger),
		HealthHandler:   NewHealthHandler(repo, "test", logger),
		WebSocket:       http.NotFoundHandler(),
		Limiter:         limiter,
		JWTManager:      jwtManager,
		Logger:          logger,
	})
	return &apiFixture{handler: router.Setup(), jwt: jwtManager, disconnector: disconnector}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Fields  []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	} `json:"error"`
}

func (f *apiFixture) do(t *testing.T, as uuid.UUID, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != uuid.Nil {
		token, err := f.jwt.GenerateAccessToken(as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t, nil)

	code, _ := f.do(t, uuid.Nil, http.MethodGet, "/api/v1/friends", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, uuid.Nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_FriendFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()

	code, env := f.do(t, alice, http.MethodPost, "/api/v1/friends/requests", map[string]string{"target_user_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(env))
	require.Len(t, env.Error.Fields, 1)
	assert.Equal(t, "target_user_id", env.Error.Fields[0].Field)

	code, _ = f.do(t, alice, http.MethodPost, "/api/v1/friends/requests", map[string]string{"target_user_id": bob.String()})
	require.Equal(t, http.StatusOK, code)

	code, env = f.do(t, bob, http.MethodGet, "/api/v1/friends/requests?direction=incoming", nil)
	require.Equal(t, http.StatusOK, code)
	var incoming []FriendView
	require.NoError(t, json.Unmarshal(env.Data, &incoming))
	require.Len(t, incoming, 1)
	assert.Equal(t, alice, incoming[0].UserID)
	assert.Equal(t, domain.RelationRequestReceived, incoming[0].Status)

	code, _ = f.do(t, alice, http.MethodPost, "/api/v1/friends/requests/"+bob.String()+"/accept", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, bob, http.MethodPost, "/api/v1/friends/requests/"+alice.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = f.do(t, alice, http.MethodPost, "/api/v1/friends/requests", map[string]string{"target_user_id": bob.String()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_FRIENDS", errorCode(env))

	code, env = f.do(t, alice, http.MethodGet, "/api/v1/friends/"+bob.String()+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"friends"`)

	code, _ = f.do(t, alice, http.MethodDelete, "/api/v1/friends/"+bob.String(), nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, env = f.do(t, alice, http.MethodDelete, "/api/v1/friends/"+bob.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FRIENDS", errorCode(env))

	code, _ = f.do(t, alice, http.MethodGet, "/api/v1/friends/requests?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, alice, http.MethodDelete, "/api/v1/friends/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_GroupFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	admin, mod, user, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	code, env := f.do(t, admin, http.MethodPost, "/api/v1/groups", map[string]string{"name": "runners", "privacy": "open"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(env))

	code, env = f.do(t, admin, http.MethodPost, "/api/v1/groups", map[string]string{"name": "runners", "privacy": "secret"})
	require.Equal(t, http.StatusCreated, code)
	var group domain.Group
	require.NoError(t, json.Unmarshal(env.Data, &group))
	base := "/api/v1/groups/" + group.ID.String()

	// Secret groups are invisible to outsiders.
	code, _ = f.do(t, stranger, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)

	for _, u := range []uuid.UUID{mod, user} {
		code, env = f.do(t, u, http.MethodPost, base+"/join", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(env.Data), `"pending"`)
	}

	code, _ = f.do(t, mod, http.MethodGet, base+"/members?status=pending", nil)
	assert.Equal(t, http.StatusForbidden, code)

	for _, u := range []uuid.UUID{mod, user} {
		code, _ = f.do(t, admin, http.MethodPost, base+"/members/"+u.String()+"/actions", map[string]string{"action": "approve"})
		require.Equal(t, http.StatusOK, code)
	}
	code, _ = f.do(t, admin, http.MethodPost, base+"/members/"+mod.String()+"/actions",
		map[string]string{"action": "promote", "role": "moderator"})
	require.Equal(t, http.StatusOK, code)

	code, env = f.do(t, mod, http.MethodPost, base+"/members/"+user.String()+"/actions",
		map[string]string{"action": "promote", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(env))

	code, env = f.do(t, admin, http.MethodPost, base+"/members/"+admin.String()+"/actions", map[string]string{"action": "remove"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CANNOT_REMOVE_LAST_ADMIN", errorCode(env))

	code, _ = f.do(t, admin, http.MethodPost, base+"/members/"+user.String()+"/actions", map[string]string{"action": "ban"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = f.do(t, user, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &group))
	assert.Equal(t, 3, group.MemberCount)

	code, _ = f.do(t, user, http.MethodPost, base+"/leave", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = f.do(t, mod, http.MethodGet, base+"/members", nil)
	require.Equal(t, http.StatusOK, code)
	var members []domain.Membership
	require.NoError(t, json.Unmarshal(env.Data, &members))
	assert.Len(t, members, 2)

	code, _ = f.do(t, admin, http.MethodGet, "/api/v1/groups/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_RealtimeLogout(t *testing.T) {
	f := newAPIFixture(t, nil)
	user := uuid.New()

	code, env := f.do(t, user, http.MethodPost, "/api/v1/realtime/logout", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"closed":2}`, string(env.Data))
	assert.Equal(t, []uuid.UUID{user}, f.disconnector.calls)
}

func TestRouter_RateLimitsMutations(t *testing.T) {
	f := newAPIFixture(t, middleware.NewRateLimiter(0.001, 1, time.Minute))
	user := uuid.New()

	code, _ := f.do(t, user, http.MethodPost, "/api/v1/groups", map[string]string{"name": "a", "privacy": "public"})
	require.Equal(t, http.StatusCreated, code)

	code, env := f.do(t, user, http.MethodPost, "/api/v1/groups", map[string]string{"name": "b", "privacy": "public"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", errorCode(env))

	// Reads are not limited.
	code, _ = f.do(t, user, http.MethodGet, "/api/v1/friends", nil)
	assert.Equal(t, http.StatusOK, code)
}
