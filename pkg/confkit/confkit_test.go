package confkit_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("TRADEDESK_CONF_DIR", "/srv/tradedesk")
	t.Setenv("TRADEDESK_CONF_SUB", "conf")

	cases := []struct {
		name string
		file string
		want string
	}{
		{"absolute", "/abs/backend.yaml", "/abs/backend.yaml"},
		{"relative", "backend.yaml", "/etc/app/backend.yaml"},
		{"env absolute", "${TRADEDESK_CONF_DIR}/backend.yaml", "/srv/tradedesk/backend.yaml"},
		{"env relative", "${TRADEDESK_CONF_SUB}/backend.yaml", "/etc/app/conf/backend.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, confkit.ResolvePath("/etc/app", tc.file))
		})
	}
}

func TestBaseDir(t *testing.T) {
	assert.Equal(t, "/etc/app", confkit.BaseDir("/etc/app/tradedesk.yaml"))
	assert.Equal(t, "etc", confkit.BaseDir("etc/tradedesk.yaml"))
	assert.Equal(t, "/", confkit.BaseDir("/tradedesk.yaml"))
}

func TestSectionHydrate(t *testing.T) {
	t.Run("empty file is a no-op", func(t *testing.T) {
		var s confkit.Section[string]
		err := s.Hydrate("/base", func(string) (*string, error) {
			t.Fatal("loader called for empty section")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, s.Value)
		assert.False(t, s.Configured())
	})

	t.Run("loads and resolves", func(t *testing.T) {
		s := confkit.Section[string]{File: "backend.yaml"}
		want := "loaded"
		err := s.Hydrate("/base", func(p string) (*string, error) {
			assert.Equal(t, "/base/backend.yaml", p)
			return &want, nil
		})
		require.NoError(t, err)
		require.NotNil(t, s.Value)
		assert.Equal(t, want, *s.Value)
		assert.Equal(t, "/base/backend.yaml", s.File)
		assert.True(t, s.Configured())
	})

	t.Run("loader error leaves section untouched", func(t *testing.T) {
		s := confkit.Section[string]{File: "missing.yaml"}
		boom := errors.New("boom")
		err := s.Hydrate("/base", func(string) (*string, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "missing.yaml", s.File)
		assert.Nil(t, s.Value)
	})
}

type fileConf struct {
	Name string
	Port int `json:",default=8080"`
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Name: ${TRADEDESK_TEST_NAME}\n"), 0o600))
	t.Setenv("TRADEDESK_TEST_NAME", "desk")

	cfg, err := confkit.LoadFile[fileConf](path, true)
	require.NoError(t, err)
	assert.Equal(t, "desk", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)

	_, err = confkit.LoadFile[fileConf](filepath.Join(dir, "nope.yaml"), false)
	assert.Error(t, err)
}

func TestProjectPath(t *testing.T) {
	root, err := confkit.ProjectRoot()
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "go.mod"))
	require.NoError(t, statErr)

	assert.Equal(t, filepath.Join(root, "etc", "backend.yaml"), confkit.MustProjectPath("etc/backend.yaml"))
}
