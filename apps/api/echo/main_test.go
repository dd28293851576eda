package echoapi_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/phqcare/apps/api/echo"
	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/activity"
	"github.com/trezcool/phqcare/core/analytics"
	"github.com/trezcool/phqcare/core/counseling"
	"github.com/trezcool/phqcare/core/school"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/core/teacher"
	"github.com/trezcool/phqcare/core/user"
	"github.com/trezcool/phqcare/services/filestore"
	"github.com/trezcool/phqcare/storage/cache"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

type mailRecorder struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

func (m *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		m.sent = append(m.sent, *msg)
	}
}

func (m *mailRecorder) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	data, _ := m.sent[len(m.sent)-1].TemplateData.(map[string]interface{})
	token, _ := data["Token"].(string)
	require.NotEmpty(t, token)
	return token
}

type fixture struct {
	srv    Server
	conf   *core.Config
	db     *inmemdb.DB
	fs     afero.Fs
	redis  *miniredis.Miniredis
	mail   *mailRecorder
	logger *testutil.Logger
}

func setup(t *testing.T, confFns ...func(conf *core.Config)) fixture {
	t.Helper()
	conf := testutil.Config()
	for _, fn := range confFns {
		fn(conf)
	}

	// set up DB, cache & file store
	db := inmemdb.Open()
	mr := miniredis.RunT(t)
	conf.Redis.Addr = mr.Addr()
	client := rediscache.NewClient(conf)
	t.Cleanup(func() { _ = client.Close() })
	mem := afero.NewMemMapFs()
	files := filesvc.NewDisk(mem, conf.Storage.DiskRoot, conf.Storage.PublicBaseURL)

	// set up services
	mail := &mailRecorder{}
	logger := &testutil.Logger{}
	srv := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		DisableReqLogs: true,
		UserSvc:        user.NewServiceMock(inmemdb.NewUserRepository(db), mail, conf),
		SchoolSvc:      school.NewService(inmemdb.NewSchoolRepository(db)),
		TeacherSvc:     teacher.NewService(inmemdb.NewTeacherRepository(db), conf),
		StudentSvc:     student.NewService(inmemdb.NewStudentRepository(db)),
		ActivitySvc:    activity.NewService(inmemdb.NewActivityRepository(db), files, conf),
		CounselingSvc:  counseling.NewService(inmemdb.NewCounselingRepository(db), files, conf),
		AnalyticsSvc:   analytics.NewService(inmemdb.NewAnalyticsRepository(db), rediscache.New(client, "test:"), conf, logger),
		Files:          files.Handler(),
	})
	t.Cleanup(func() { _ = srv.Close() })

	return fixture{srv: srv, conf: conf, db: db, fs: mem, redis: mr, mail: mail, logger: logger}
}

type httpTest struct {
	name       string
	method     string
	path       string
	body       []byte
	token      string
	wantCode   int
	wantReason string
}

// envelope mirrors Response, with the data left raw.
type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Reason  string            `json:"reason"`
	Fields  map[string]string `json:"fields"`
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

type formFile struct {
	field, name, contentType string
	content                  []byte
}

func newMultipartRequest(t *testing.T, path, token string, fields map[string]string, files ...formFile) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func (f fixture) do(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	f.srv.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User, advisoryClass string) string {
	claims := GetUserClaims(conf, usr, advisoryClass)
	token, err := GenerateToken(conf, claims)
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

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	env := decode(t, rec)
	require.True(t, env.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func checkCodeAndReason(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	env := decode(t, rec)
	assert.Equal(t, rec.Code < 400, env.Success)
	if tt.wantReason != "" {
		assert.Equal(t, tt.wantReason, env.Reason)
	}
	if !env.Success {
		assert.NotEmpty(t, env.Message)
	}
}

func runHTTPTests(t *testing.T, f fixture, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndReason(t, tt, rec)
		})
	}
}
