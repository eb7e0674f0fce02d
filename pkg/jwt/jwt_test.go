package jwt_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgjwt "github.com/jhoicas/fiscal-adapter/pkg/jwt"
)

const secret = "test-secret-key-for-unit-tests"

func TestGenerateAndParse(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "u1", "t1", pkgjwt.RoleOperator, "pos-auth", 60)
	require.NoError(t, err)

	userID, tenantID, role, err := pkgjwt.Parse(secret, "pos-auth", tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "t1", tenantID)
	assert.Equal(t, pkgjwt.RoleOperator, role)
}

func TestParse_Expirado(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "u1", "t1", pkgjwt.RoleAdmin, "", -1)
	require.NoError(t, err)
	_, _, _, err = pkgjwt.Parse(secret, "", tok)
	assert.Error(t, err)
}

func TestParse_SecretIncorrecto(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "u1", "t1", pkgjwt.RoleAdmin, "", 60)
	require.NoError(t, err)
	_, _, _, err = pkgjwt.Parse("otro-secret-completamente-distinto", "", tok)
	assert.Error(t, err)
}

func TestParse_EmisorDistinto(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "u1", "t1", pkgjwt.RoleAdmin, "otro-emisor", 60)
	require.NoError(t, err)
	_, _, _, err = pkgjwt.Parse(secret, "pos-auth", tok)
	assert.Error(t, err)
}

func TestParse_SinExpiracion(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, pkgjwt.Claims{
		UserID: "u1", TenantID: "t1", Role: pkgjwt.RoleAdmin,
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, _, _, err = pkgjwt.Parse(secret, "", tok)
	assert.Error(t, err)
}
