package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/assistant"
	"github.com/trezcool/fieldops/core/attachment"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
	emailsvc "github.com/trezcool/fieldops/services/email"
	"github.com/trezcool/fieldops/services/realtime"
	smssvc "github.com/trezcool/fieldops/services/sms"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
	"github.com/trezcool/fieldops/storage/objects"
	testutil "github.com/trezcool/fieldops/tests"
)

const testPassword = "Sup3r$ecret!"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// testEnv is an API server backed by in-memory storage, with one tenant and its admin.
type testEnv struct {
	app  *echoapi.Server
	conf *core.Config

	usrRepo    user.Repository
	tenants    tenant.Service
	users      user.Service
	personnel  personnel.Service
	clients    client.Service
	workOrders workorder.Service
	notifs     notification.Service
	store      *objects.MemoryStore
	locker     *tenant.MemoryLocker

	tenant tenant.Tenant
	admin  user.User
}

func setup(t *testing.T, conf ...*core.Config) testEnv {
	t.Helper()
	cfg := core.NewTestConfig()
	if len(conf) > 0 {
		cfg = conf[0]
	}
	logger := core.NopLogger{}

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	tenant.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	db := inmemdb.Open()
	env := testEnv{
		conf:    cfg,
		usrRepo: inmemdb.NewUserRepository(db),
		store:   objects.NewMemoryStore(),
		locker:  tenant.NewMemoryLocker(),
	}
	woRepo := inmemdb.NewWorkOrderRepository(db)

	smsSvc, err := smssvc.New(cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	mailSvc := emailsvc.NewConsoleServiceMock(cfg)

	env.tenants = tenant.NewService(inmemdb.NewTenantRepository(db), env.locker, env.usrRepo, env.store, logger)
	env.users = user.NewService(env.usrRepo, env.tenants, mailSvc, cfg, logger)
	env.notifs = notification.NewService(inmemdb.NewNotificationRepository(db), realtime.NewHub(logger), env.tenants, mailSvc, smsSvc, logger)
	env.notifs.SetAdminLister(env.users)
	env.personnel = personnel.NewService(inmemdb.NewPersonnelRepository(db))
	env.clients = client.NewService(inmemdb.NewClientRepository(db), woRepo)
	reminders := schedule.NewService(inmemdb.NewReminderRepository(db), cfg)
	env.workOrders = workorder.NewService(woRepo, env.tenants, env.personnel, env.clients, reminders, env.notifs, logger)

	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:            cfg,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		DisableReqLogs:  true,
		TenantSvc:       env.tenants,
		UserSvc:         env.users,
		PersonnelSvc:    env.personnel,
		ClientSvc:       env.clients,
		WorkOrderSvc:    env.workOrders,
		ReminderSvc:     reminders,
		NotificationSvc: env.notifs,
		AttachmentSvc:   attachment.NewService(inmemdb.NewAttachmentRepository(db), env.store, env.tenants, env.workOrders, logger),
		AssistantSvc:    assistant.NewService(env.tenants, env.personnel, env.clients, env.workOrders, validate, logger),
	})
	t.Cleanup(func() { _ = env.app.Close() })

	env.tenant = testutil.CreateTenant(t, env.tenants, "Acme", "acme", "Europe/Athens", tenant.PlanBasic)
	env.admin = env.createUser(t, "admin01", user.RoleAdminOwner)
	return env
}

// createUser adds an active user to the tenant of env.
func (env testEnv) createUser(t *testing.T, uname string, roles ...string) user.User {
	t.Helper()
	return testutil.CreateUser(t, env.usrRepo, env.tenant.ID, "User "+uname, uname, uname+"@acme.test", testPassword, roles, true)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// do runs tt against the app and returns the recorded response.
func (env testEnv) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	env.app.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(conf, echoapi.NewClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
