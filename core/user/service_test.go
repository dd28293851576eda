package user_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/user"
	"github.com/trezcool/phqcare/storage/database/inmem"
	"github.com/trezcool/phqcare/tests"
)

const newPassword = "Nw7!qRt5zB"

type mailMock struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailMock) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

func (m *mailMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailMock) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	data, ok := m.sent[len(m.sent)-1].TemplateData.(map[string]interface{})
	require.True(t, ok)
	token, _ := data["Token"].(string)
	require.NotEmpty(t, token)
	return token
}

type fixture struct {
	db   *inmemdb.DB
	svc  user.Service
	mail *mailMock
	conf *core.Config
}

func setup(t *testing.T, configure ...func(conf *core.Config)) fixture {
	t.Helper()
	conf := testutil.Config()
	for _, fn := range configure {
		fn(conf)
	}
	db := inmemdb.Open()
	mail := &mailMock{}
	return fixture{
		db:   db,
		svc:  user.NewServiceMock(inmemdb.NewUserRepository(db), mail, conf),
		mail: mail,
		conf: conf,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	nu := user.NewUser{Email: " Somchai@School.test ", Password: testutil.Password, PasswordConfirm: testutil.Password}
	require.NoError(t, nu.Validate(f.svc))
	usr, err := f.svc.Register(ctx, nu)
	require.NoError(t, err)
	assert.Equal(t, "somchai@school.test", usr.Email)
	assert.Equal(t, core.RoleSchoolAdmin, usr.Role)
	assert.Empty(t, usr.SchoolID)
	assert.True(t, usr.IsActive)

	// duplicate email
	dup := user.NewUser{Email: "SOMCHAI@school.test", Password: testutil.Password, PasswordConfirm: testutil.Password}
	assert.True(t, core.IsValidation(dup.Validate(f.svc)))

	logged, err := f.svc.Login(ctx, "somchai@SCHOOL.test", testutil.Password)
	require.NoError(t, err)
	assert.False(t, logged.LastLogin.IsZero())

	_, err = f.svc.Login(ctx, "somchai@school.test", "wrong-password")
	assert.Equal(t, user.ErrInvalidCredentials, err)
	_, err = f.svc.Login(ctx, "nobody@school.test", testutil.Password)
	assert.Equal(t, user.ErrInvalidCredentials, err)
}

func TestLogin_Inactive(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.db, "inactive@school.test", core.RoleClassTeacher, "", false)
	usr.IsActive = false
	_, err := inmemdb.NewUserRepository(f.db).UpdateUser(ctx, usr)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, usr.Email, testutil.Password)
	assert.Equal(t, user.ErrInactive, err)
}

func TestLogin_WhitelistSync(t *testing.T) {
	ctx := context.Background()
	whitelist := []string{"boss@school.test"}
	f := setup(t, func(conf *core.Config) { conf.SystemAdminEmails = whitelist })

	boss := testutil.CreateUser(t, f.db, "boss@school.test", core.RoleSchoolAdmin, "", false)
	other := testutil.CreateUser(t, f.db, "other@school.test", core.RoleSystemAdmin, "", false)

	// a whitelisted user is promoted at login
	usr, err := f.svc.Login(ctx, boss.Email, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSystemAdmin, usr.Role)

	// a system admin no longer whitelisted is demoted at login
	usr, err = f.svc.Login(ctx, other.Email, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSchoolAdmin, usr.Role)

	// removing boss from the whitelist only applies at their next login
	f.conf.SystemAdminEmails = []string{"someone-else@school.test"}
	usr, err = f.svc.GetByID(ctx, boss.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSystemAdmin, usr.Role)
	usr, err = f.svc.Login(ctx, boss.Email, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSchoolAdmin, usr.Role)

	// an empty whitelist disables the sync
	f.conf.SystemAdminEmails = nil
	require.NoError(t, inmemdb.NewUserRepository(f.db).RunInTx(ctx, func(repo user.Repository) error {
		usr.Role = core.RoleSystemAdmin
		_, err := repo.UpdateUser(ctx, usr)
		return err
	}))
	usr, err = f.svc.Login(ctx, boss.Email, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSystemAdmin, usr.Role)

	// unless the sync is switched on: removing the last email demotes
	f.conf.SystemAdminSync = true
	usr, err = f.svc.Login(ctx, boss.Email, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, core.RoleSchoolAdmin, usr.Role)
}

func TestSyncWhitelistRole(t *testing.T) {
	admin := user.User{Email: "Boss@School.test", Role: core.RoleSystemAdmin}
	teacher := user.User{Email: "t1@school.test", Role: core.RoleClassTeacher}

	tests := []struct {
		name        string
		usr         user.User
		whitelist   []string
		wantRole    core.Role
		wantChanged bool
	}{
		{name: "sync off", usr: admin, whitelist: nil, wantRole: core.RoleSystemAdmin},
		{name: "empty whitelist demotes", usr: admin, whitelist: []string{}, wantRole: core.RoleSchoolAdmin, wantChanged: true},
		{name: "listed, case insensitive", usr: admin, whitelist: []string{" boss@school.TEST"}, wantRole: core.RoleSystemAdmin},
		{name: "promoted", usr: teacher, whitelist: []string{"t1@school.test"}, wantRole: core.RoleSystemAdmin, wantChanged: true},
		{name: "others untouched", usr: teacher, whitelist: []string{}, wantRole: core.RoleClassTeacher},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, changed := user.SyncWhitelistRole(tt.usr, tt.whitelist)
			assert.Equal(t, tt.wantRole, got.Role)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.db, "reset@school.test", core.RoleClassTeacher, "", false)

	// unknown emails are ignored silently
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "unknown@school.test"))
	assert.Equal(t, 0, f.mail.count())

	require.NoError(t, f.svc.RequestPasswordReset(ctx, usr.Email))
	token := f.mail.lastToken(t)

	rp := user.ResetUserPassword{Token: token, Password: newPassword, PasswordConfirm: newPassword}
	require.NoError(t, f.svc.ResetPassword(ctx, rp))

	_, err := f.svc.Login(ctx, usr.Email, newPassword)
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, usr.Email, testutil.Password)
	assert.Equal(t, user.ErrInvalidCredentials, err)

	// tokens are single use
	err = f.svc.ResetPassword(ctx, rp)
	assert.Equal(t, user.ErrResetTokenNotFound, err)
}

func TestPasswordReset_ReplacesOlderToken(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.db, "twice@school.test", core.RoleClassTeacher, "", false)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, usr.Email))
	first := f.mail.lastToken(t)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, usr.Email))
	second := f.mail.lastToken(t)
	require.NotEqual(t, first, second)

	err := f.svc.ResetPassword(ctx, user.ResetUserPassword{Token: first, Password: newPassword, PasswordConfirm: newPassword})
	assert.True(t, core.IsNotFound(err))
	err = f.svc.ResetPassword(ctx, user.ResetUserPassword{Token: second, Password: newPassword, PasswordConfirm: newPassword})
	assert.NoError(t, err)
}

func TestPasswordReset_Expired(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(conf *core.Config) { conf.PasswordResetTimeoutDelta = -time.Minute })
	usr := testutil.CreateUser(t, f.db, "late@school.test", core.RoleClassTeacher, "", false)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, usr.Email))
	rp := user.ResetUserPassword{Token: f.mail.lastToken(t), Password: newPassword, PasswordConfirm: newPassword}

	assert.Equal(t, user.ErrResetTokenExpired, f.svc.ResetPassword(ctx, rp))
	// the expired token is gone
	assert.Equal(t, user.ErrResetTokenNotFound, f.svc.ResetPassword(ctx, rp))
	// the password is unchanged
	_, err := f.svc.Login(ctx, usr.Email, testutil.Password)
	assert.NoError(t, err)
}

func TestPasswordReset_WeakPassword(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := testutil.CreateUser(t, f.db, "weak@school.test", core.RoleClassTeacher, "", false)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, usr.Email))
	token := f.mail.lastToken(t)

	err := f.svc.ResetPassword(ctx, user.ResetUserPassword{Token: token, Password: "12345678", PasswordConfirm: "12345678"})
	assert.True(t, core.IsValidation(err))

	// the token survives a rejected password
	err = f.svc.ResetPassword(ctx, user.ResetUserPassword{Token: token, Password: newPassword, PasswordConfirm: newPassword})
	assert.NoError(t, err)
}

func TestChangeRole(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sysAdmin := testutil.CreateUser(t, f.db, "sys@school.test", core.RoleSystemAdmin, "", false)
	otherSys := testutil.CreateUser(t, f.db, "sys2@school.test", core.RoleSystemAdmin, "", false)
	primary := testutil.CreateUser(t, f.db, "primary@school.test", core.RoleSchoolAdmin, "s1", true)
	admin := testutil.CreateUser(t, f.db, "admin@school.test", core.RoleSchoolAdmin, "s1", false)
	teacher := testutil.CreateUser(t, f.db, "teacher@school.test", core.RoleClassTeacher, "s1", false)

	sysActor := testutil.Actor(t, sysAdmin, "")
	adminActor := testutil.Actor(t, admin, core.AllClasses)

	tests := []struct {
		name     string
		actor    access.Actor
		id       string
		role     core.Role
		wantRole core.Role
		wantAuth bool
		wantVal  bool
	}{
		{name: "school admin may not change roles", actor: adminActor, id: teacher.ID, role: core.RoleSchoolAdmin, wantAuth: true},
		{name: "not self", actor: sysActor, id: sysAdmin.ID, role: core.RoleSchoolAdmin, wantAuth: true},
		{name: "not another system admin", actor: sysActor, id: otherSys.ID, role: core.RoleSchoolAdmin, wantAuth: true},
		{name: "not a primary admin", actor: sysActor, id: primary.ID, role: core.RoleClassTeacher, wantAuth: true},
		{name: "invalid role", actor: sysActor, id: teacher.ID, role: "principal", wantVal: true},
		{name: "promote teacher", actor: sysActor, id: teacher.ID, role: core.RoleSchoolAdmin, wantRole: core.RoleSchoolAdmin},
		{name: "demote admin", actor: sysActor, id: admin.ID, role: core.RoleClassTeacher, wantRole: core.RoleClassTeacher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := f.svc.ChangeRole(ctx, tt.actor, tt.id, tt.role)
			switch {
			case tt.wantAuth:
				assert.True(t, core.IsAuthorization(err), "err = %v", err)
			case tt.wantVal:
				assert.Error(t, err)
				assert.False(t, core.IsAuthorization(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantRole, usr.Role)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sysAdmin := testutil.CreateUser(t, f.db, "sys@school.test", core.RoleSystemAdmin, "", false)
	otherSys := testutil.CreateUser(t, f.db, "sys2@school.test", core.RoleSystemAdmin, "", false)
	admin := testutil.CreateUser(t, f.db, "admin@school.test", core.RoleSchoolAdmin, "s1", false)
	otherAdmin := testutil.CreateUser(t, f.db, "admin2@school.test", core.RoleSchoolAdmin, "s1", false)
	teacher := testutil.CreateTeacher(t, f.db, "teacher@school.test", "s1", "ม.1/1", false)
	farTeacher := testutil.CreateUser(t, f.db, "far@school.test", core.RoleClassTeacher, "s2", false)
	classTeacher := testutil.CreateUser(t, f.db, "ct@school.test", core.RoleClassTeacher, "s1", false)

	sysActor := testutil.Actor(t, sysAdmin, "")
	adminActor := testutil.Actor(t, admin, core.AllClasses)
	teacherActor := testutil.Actor(t, classTeacher, "ม.1/1")

	tests := []struct {
		name   string
		actor  access.Actor
		id     string
		reason string
	}{
		{name: "system admin: not self", actor: sysActor, id: sysAdmin.ID, reason: core.ReasonForbidden},
		{name: "system admin: not another system admin", actor: sysActor, id: otherSys.ID, reason: core.ReasonForbidden},
		{name: "school admin: not another admin", actor: adminActor, id: otherAdmin.ID, reason: core.ReasonForbidden},
		{name: "school admin: not another school", actor: adminActor, id: farTeacher.ID, reason: core.ReasonDifferentSchool},
		{name: "class teacher: never", actor: teacherActor, id: teacher.ID, reason: core.ReasonForbidden},
		{name: "school admin: own teacher", actor: adminActor, id: teacher.ID},
		{name: "system admin: anyone else", actor: sysActor, id: otherAdmin.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Delete(ctx, tt.actor, tt.id)
			if tt.reason != "" {
				var authErr *core.AuthorizationError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, tt.reason, authErr.Reason)
				return
			}
			require.NoError(t, err)
			_, err = f.svc.GetByID(ctx, tt.id)
			assert.True(t, core.IsNotFound(err))
		})
	}

	// the teacher profile went with the user
	_, err := inmemdb.NewTeacherRepository(f.db).GetTeacher(ctx, teacher.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	sysAdmin := testutil.CreateUser(t, f.db, "sys@school.test", core.RoleSystemAdmin, "", false)
	admin := testutil.CreateUser(t, f.db, "admin@school.test", core.RoleSchoolAdmin, "s1", false)
	teacher := testutil.CreateUser(t, f.db, "teacher@school.test", core.RoleClassTeacher, "s1", false)
	testutil.CreateUser(t, f.db, "far@school.test", core.RoleClassTeacher, "s2", false)

	all, err := f.svc.Query(ctx, testutil.Actor(t, sysAdmin, ""), user.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := f.svc.Query(ctx, testutil.Actor(t, admin, core.AllClasses), user.QueryFilter{SchoolID: "s2"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	teachers, err := f.svc.Query(ctx, testutil.Actor(t, admin, core.AllClasses),
		user.QueryFilter{Role: core.RoleClassTeacher}, core.DBOrdering{Field: "email", Ascending: true})
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Equal(t, teacher.ID, teachers[0].ID)

	_, err = f.svc.Query(ctx, testutil.Actor(t, teacher, "ม.1/1"), user.QueryFilter{})
	assert.True(t, core.IsAuthorization(err))
}
