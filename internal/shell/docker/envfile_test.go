package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nDEPLOYCHECK_TEST_VAR=hello\nQUOTED=\"with space\"\nexport EXPORTED=yes\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", env["DEPLOYCHECK_TEST_VAR"])
	assert.Equal(t, "with space", env["QUOTED"])
	assert.Equal(t, "yes", env["EXPORTED"])
	assert.Len(t, env, 3)
}

func TestReadEnvFile_Missing(t *testing.T) {
	_, err := ReadEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	assert.ErrorIs(t, err, ErrEnvFile)
}

func TestReadEnvFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOT A VALID LINE\n"), 0o600))

	_, err := ReadEnvFile(path)
	assert.ErrorIs(t, err, ErrEnvFile)
}

func TestReadEnvFile_BareNameInheritsFromHost(t *testing.T) {
	t.Setenv("DEPLOYCHECK_INHERITED", "from-host")
	os.Unsetenv("DEPLOYCHECK_NOT_SET_ANYWHERE")

	path := filepath.Join(t.TempDir(), ".env")
	content := "DEPLOYCHECK_INHERITED\nDEPLOYCHECK_NOT_SET_ANYWHERE\n  export DEPLOYCHECK_EXPORTED_BARE\nPLAIN=value\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"DEPLOYCHECK_INHERITED": "from-host",
		"PLAIN":                 "value",
	}, env)
}

func TestReadEnvFile_AssignmentWinsOverBareName(t *testing.T) {
	t.Setenv("DEPLOYCHECK_TEST_VAR", "from-host")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEPLOYCHECK_TEST_VAR\nDEPLOYCHECK_TEST_VAR=from-file\n"), 0o600))

	env, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", env["DEPLOYCHECK_TEST_VAR"])
}
