package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/user"
)

func (env testEnv) notify(t *testing.T, usr user.User, title string) notification.Notification {
	t.Helper()
	n, err := env.notifs.Notify(context.Background(), notification.NewNotification{
		TenantID: usr.TenantID,
		UserID:   usr.ID,
		Kind:     notification.KindSystem,
		Title:    title,
	})
	require.NoError(t, err)
	return n
}

func Test_notificationApi(t *testing.T) {
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	techToken := getToken(t, env.conf, tech)

	first := env.notify(t, tech, "Boiler service assigned")
	second := env.notify(t, tech, "Pump repair assigned")
	env.notify(t, env.admin, "Usage at 80%")

	tests := []httpTest{
		{name: "Auth required", path: "/v1/notifications", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "own only", path: "/v1/notifications", token: techToken, wantCode: http.StatusOK, wantData: marchallList(t, second, first)},
		{name: "search", path: "/v1/notifications?search=pump", token: techToken, wantCode: http.StatusOK, wantData: marchallList(t, second)},
		{name: "unread count", path: "/v1/notifications/unread-count", token: techToken, wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.UnreadCountResponse{Unread: 2})},
		{
			name: "mark read", method: http.MethodPost, path: "/v1/notifications/read", token: techToken,
			body: marchallObj(t, echoapi.MarkReadRequest{IDs: []string{first.ID}}), wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.UpdatedResponse{Updated: 1}),
		},
		{
			name: "mark read (no ids)", method: http.MethodPost, path: "/v1/notifications/read", token: techToken,
			body: marchallObj(t, echoapi.MarkReadRequest{IDs: []string{" "}}), wantCode: http.StatusBadRequest,
		},
		{name: "unread only", path: "/v1/notifications?unread=true", token: techToken, wantCode: http.StatusOK, wantData: marchallList(t, second)},
		{name: "read all", method: http.MethodPost, path: "/v1/notifications/read-all", token: techToken, wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.UpdatedResponse{Updated: 1})},
		{name: "nothing unread", path: "/v1/notifications/unread-count", token: techToken, wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.UnreadCountResponse{Unread: 0})},
		{name: "delete", method: http.MethodDelete, path: "/v1/notifications/" + first.ID, token: techToken, wantCode: http.StatusNoContent},
		{name: "delete again", method: http.MethodDelete, path: "/v1/notifications/" + first.ID, token: techToken, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}

func Test_notificationApi_stream(t *testing.T) {
	env := setup(t)
	tech := env.createUser(t, "tech001", user.RoleTechnician)
	env.notify(t, tech, "Boiler service assigned")

	srv := httptest.NewServer(env.app)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/stream?token="

	t.Run("token required", func(t *testing.T) {
		_, err := websocket.Dial(wsURL, "", srv.URL)
		assert.Error(t, err)
	})

	ws, err := websocket.Dial(wsURL+getToken(t, env.conf, tech), "", srv.URL)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev notification.Event
	require.NoError(t, websocket.JSON.Receive(ws, &ev))
	assert.Equal(t, "notification.snapshot", ev.Type)
	assert.Equal(t, 1, ev.UnreadCount)

	// other users' notifications are not pushed
	env.notify(t, env.admin, "Usage at 80%")
	n := env.notify(t, tech, "Pump repair assigned")

	require.NoError(t, websocket.JSON.Receive(ws, &ev))
	assert.Equal(t, notification.EventCreated, ev.Type)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, n.ID, ev.Notification.ID)
}
