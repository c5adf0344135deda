package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/auth"
	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/insurance/store"
)

const secret = "test-signing-key-that-is-long-enough-for-hs256"

type fixture struct {
	redis   *miniredis.Miniredis
	mem     *store.Memory
	refresh *auth.RedisRefreshStore
	service *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mem := store.NewMemory()
	refresh := auth.NewRedisRefreshStore(client)
	issuer := auth.NewTokenIssuer(secret, "underwriting", 15*time.Minute)
	return &fixture{
		redis:   mr,
		mem:     mem,
		refresh: refresh,
		service: auth.NewService(mem, issuer, refresh, 7*24*time.Hour, nil, nil),
	}
}

func (f *fixture) register(t *testing.T, email string, role insurance.Role) *insurance.User {
	t.Helper()
	u, err := f.service.Register(context.Background(), insurance.SystemActor, auth.NewUser{
		Username: email,
		Email:    email,
		Password: "correct horse battery",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

// =============================================================================
// ACCESS TOKENS
// =============================================================================

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := auth.NewTokenIssuer(secret, "underwriting", time.Minute)
	user := &insurance.User{ID: "u-1", Role: insurance.RoleClaimsAdjuster}

	token, err := issuer.Issue(user)
	require.NoError(t, err)
	claims, err := issuer.Parse(token)

	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, insurance.RoleClaimsAdjuster, claims.Role)
}

func TestTokenIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := auth.NewTokenIssuer(secret, "underwriting", time.Minute)
	user := &insurance.User{ID: "u-1", Role: insurance.RoleAdmin}

	otherKey, err := auth.NewTokenIssuer("a-completely-different-signing-key-value", "underwriting", time.Minute).Issue(user)
	require.NoError(t, err)
	otherIssuer, err := auth.NewTokenIssuer(secret, "someone-else", time.Minute).Issue(user)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{Role: insurance.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"other key":    otherKey,
		"other issuer": otherIssuer,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
	} {
		_, err := issuer.Parse(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, name)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := auth.NewTokenIssuer(secret, "underwriting", -time.Minute)
	token, err := issuer.Issue(&insurance.User{ID: "u-1", Role: insurance.RoleAdmin})
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

// =============================================================================
// REFRESH STORE
// =============================================================================

func TestRedisRefreshStore_ConsumeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.refresh.Save(ctx, "tok", "u-1", time.Hour))

	userID, err := f.refresh.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, insurance.UserID("u-1"), userID)

	_, err = f.refresh.Consume(ctx, "tok")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRedisRefreshStore_Expires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.refresh.Save(ctx, "tok", "u-1", time.Hour))
	assert.Equal(t, time.Hour, f.redis.TTL("refresh:tok"))

	f.redis.FastForward(time.Hour + time.Second)

	_, err := f.refresh.Consume(ctx, "tok")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRedisRefreshStore_Revoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.refresh.Save(ctx, "tok", "u-1", time.Hour))

	require.NoError(t, f.refresh.Revoke(ctx, "tok"))
	require.NoError(t, f.refresh.Revoke(ctx, "never-issued"))

	assert.False(t, f.redis.Exists("refresh:tok"))
}

func TestRedisRefreshStore_Outage(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()

	err := f.refresh.Save(context.Background(), "tok", "u-1", time.Hour)
	assert.ErrorIs(t, err, insurance.ErrStoreUnavailable)
}

// =============================================================================
// SERVICE
// =============================================================================

func TestLogin_IssuesSessionAndStoresRefreshToken(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "uw@example.com", insurance.RoleUnderwriter)

	session, err := f.service.Login(context.Background(), "UW@example.com", "correct horse battery", "10.0.0.9")

	require.NoError(t, err)
	assert.Equal(t, user.ID, session.User.ID)
	assert.Empty(t, session.User.PasswordHash)
	assert.NotNil(t, session.User.LastLoginAt)
	assert.Equal(t, 15*time.Minute, session.ExpiresIn)
	assert.True(t, f.redis.Exists("refresh:"+session.RefreshToken))

	actor, err := f.service.Authenticate(context.Background(), session.AccessToken, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, insurance.Actor{ID: user.ID, Role: insurance.RoleUnderwriter, IPAddress: "10.0.0.9"}, actor)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "adj@example.com", insurance.RoleClaimsAdjuster)
	hash, err := auth.HashPassword("correct horse battery")
	require.NoError(t, err)
	require.NoError(t, f.mem.InsertUser(context.Background(), &insurance.User{
		ID: "gone", Username: "gone", Email: "gone@example.com", PasswordHash: hash,
		Role: insurance.RoleUnderwriter, Status: insurance.UserInactive,
	}))

	_, err = f.service.Login(context.Background(), "adj@example.com", "wrong password", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.service.Login(context.Background(), "nobody@example.com", "correct horse battery", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.service.Login(context.Background(), "gone@example.com", "correct horse battery", "")
	assert.ErrorIs(t, err, auth.ErrInactiveUser)

	_, err = f.service.Login(context.Background(), "", "", "")
	assert.ErrorIs(t, err, insurance.ErrValidation)
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	// GIVEN: A logged-in user
	f := newFixture(t)
	f.register(t, "rm@example.com", insurance.RoleReinsuranceManager)
	first, err := f.service.Login(context.Background(), "rm@example.com", "correct horse battery", "")
	require.NoError(t, err)

	// WHEN: The refresh token is used
	second, err := f.service.Refresh(context.Background(), first.RefreshToken)

	// THEN: A new pair is issued and the old refresh token is dead
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.False(t, f.redis.Exists("refresh:"+first.RefreshToken))

	_, err = f.service.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.service.Refresh(context.Background(), second.RefreshToken)
	assert.NoError(t, err)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "rm@example.com", insurance.RoleReinsuranceManager)
	session, err := f.service.Login(context.Background(), "rm@example.com", "correct horse battery", "")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(context.Background(), session.RefreshToken))

	_, err = f.service.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "taken@example.com", insurance.RoleUnderwriter)

	tests := []struct {
		name string
		in   auth.NewUser
		want error
	}{
		{"bad email", auth.NewUser{Username: "a", Email: "nope", Password: "long enough", Role: insurance.RoleAdmin}, insurance.ErrValidation},
		{"short password", auth.NewUser{Username: "a", Email: "a@example.com", Password: "short", Role: insurance.RoleAdmin}, insurance.ErrValidation},
		{"unknown role", auth.NewUser{Username: "a", Email: "a@example.com", Password: "long enough", Role: "AUDITOR"}, insurance.ErrValidation},
		{"taken email", auth.NewUser{Username: "b", Email: "TAKEN@example.com", Password: "long enough", Role: insurance.RoleAdmin}, insurance.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Register(context.Background(), insurance.SystemActor, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEnsureAdmin_IsIdempotent(t *testing.T) {
	f := newFixture(t)

	created, err := f.service.EnsureAdmin(context.Background(), "root@example.com", "bootstrap-password")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.service.EnsureAdmin(context.Background(), "root@example.com", "bootstrap-password")
	require.NoError(t, err)
	assert.False(t, created)

	session, err := f.service.Login(context.Background(), "root@example.com", "bootstrap-password", "")
	require.NoError(t, err)
	assert.Equal(t, insurance.RoleAdmin, session.User.Role)
}

// =============================================================================
// USER ADMINISTRATION
// =============================================================================

func TestUpdateUser_PasswordRoleAndStatus(t *testing.T) {
	// GIVEN: An underwriter with an open session
	f := newFixture(t)
	u := f.register(t, "uw@example.com", insurance.RoleUnderwriter)
	session, err := f.service.Login(context.Background(), "uw@example.com", "correct horse battery", "")
	require.NoError(t, err)

	// WHEN: The admin changes the password and role
	password := "a brand new secret"
	role := insurance.RoleReinsuranceManager
	updated, err := f.service.UpdateUser(context.Background(), insurance.SystemActor, u.ID, auth.UserPatch{Password: &password, Role: &role})

	// THEN: Only the new password works and the hash is not returned
	require.NoError(t, err)
	assert.Equal(t, insurance.RoleReinsuranceManager, updated.Role)
	assert.Empty(t, updated.PasswordHash)

	_, err = f.service.Login(context.Background(), "uw@example.com", "correct horse battery", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.service.Login(context.Background(), "uw@example.com", password, "")
	require.NoError(t, err)

	// AND: Deactivation locks out the existing access token
	inactive := insurance.UserInactive
	_, err = f.service.UpdateUser(context.Background(), insurance.SystemActor, u.ID, auth.UserPatch{Status: &inactive})
	require.NoError(t, err)
	_, err = f.service.Authenticate(context.Background(), session.AccessToken, "")
	assert.ErrorIs(t, err, auth.ErrInactiveUser)
}

func TestUpdateUser_Validation(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "uw@example.com", insurance.RoleUnderwriter)
	f.register(t, "other@example.com", insurance.RoleUnderwriter)

	bad := "nope"
	taken := "other@example.com"
	short := "short"
	role := insurance.Role("AUDITOR")
	status := insurance.UserStatus("LOCKED")

	tests := []struct {
		name  string
		patch auth.UserPatch
		want  error
	}{
		{"bad email", auth.UserPatch{Email: &bad}, insurance.ErrValidation},
		{"taken email", auth.UserPatch{Email: &taken}, insurance.ErrConflict},
		{"short password", auth.UserPatch{Password: &short}, insurance.ErrValidation},
		{"unknown role", auth.UserPatch{Role: &role}, insurance.ErrValidation},
		{"unknown status", auth.UserPatch{Status: &status}, insurance.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.UpdateUser(context.Background(), insurance.SystemActor, u.ID, tt.patch)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.service.UpdateUser(context.Background(), insurance.SystemActor, "missing", auth.UserPatch{})
	assert.True(t, insurance.IsNotFound(err))
}

func TestListUsers_FiltersAndHidesHashes(t *testing.T) {
	f := newFixture(t)
	f.register(t, "uw@example.com", insurance.RoleUnderwriter)
	f.register(t, "adj@example.com", insurance.RoleClaimsAdjuster)

	role := insurance.RoleClaimsAdjuster
	users, err := f.service.ListUsers(context.Background(), insurance.UserFilter{Role: &role})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "adj@example.com", users[0].Email)
	assert.Empty(t, users[0].PasswordHash)

	all, err := f.service.ListUsers(context.Background(), insurance.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
