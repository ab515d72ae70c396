package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	type testCase struct {
		Name          string
		Content       string
		Enabled       bool
		Repositories  []Repository
		ExpectedError error
	}

	testCases := []testCase{
		{
			Name:    "enabled",
			Content: "[Local Network Updates]\nAdvertiseUpdates=true\n",
			Enabled: true,
		},
		{
			Name:    "disabled",
			Content: "[Local Network Updates]\nAdvertiseUpdates=false\n",
			Enabled: false,
		},
		{
			Name:    "numeric",
			Content: "[Local Network Updates]\nAdvertiseUpdates=1\n",
			Enabled: true,
		},
		{
			Name:    "missing section",
			Content: "[Something Else]\nAdvertiseUpdates=true\n",
			Enabled: false,
		},
		{
			Name:    "missing key",
			Content: "[Local Network Updates]\nOther=true\n",
			Enabled: false,
		},
		{
			Name:    "empty",
			Content: "",
			Enabled: false,
		},
		{
			Name:          "invalid boolean",
			Content:       "[Local Network Updates]\nAdvertiseUpdates=maybe\n",
			ExpectedError: ErrConfigParse,
		},
		{
			Name:          "inline comment is not stripped",
			Content:       "[Local Network Updates]\nAdvertiseUpdates=true # yes\n",
			ExpectedError: ErrConfigParse,
		},
		{
			Name: "repositories",
			Content: "[Local Network Updates]\nAdvertiseUpdates=true\n\n" +
				"[Repository 1]\nPath=/var/lib/flatpak/repo\nRemoteName=flathub\n\n" +
				"[Repository 0]\nPath=/ostree/repo\nRemoteName=eos\n",
			Enabled: true,
			Repositories: []Repository{
				{Index: 0, Path: "/ostree/repo", RemoteName: "eos"},
				{Index: 1, Path: "/var/lib/flatpak/repo", RemoteName: "flathub"},
			},
		},
		{
			Name:          "repository without remote",
			Content:       "[Repository 0]\nPath=/ostree/repo\n",
			ExpectedError: ErrConfigParse,
		},
		{
			Name:          "repository with bad index",
			Content:       "[Repository zero]\nPath=/ostree/repo\nRemoteName=eos\n",
			ExpectedError: ErrConfigParse,
		},
		{
			Name:          "repository with bad remote",
			Content:       "[Repository 0]\nPath=/ostree/repo\nRemoteName=eos:main\n",
			ExpectedError: ErrConfigParse,
		},
		{
			Name: "duplicate repository",
			Content: "[Repository 1]\nPath=/a\nRemoteName=a\n\n" +
				"[Repository 01]\nPath=/b\nRemoteName=b\n",
			ExpectedError: ErrConfigParse,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			conf, err := Parse([]byte(tc.Content))

			if tc.ExpectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.ExpectedError), "unexpected error: %+v", err)
				require.False(t, conf.AdvertiseUpdates)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.Enabled, conf.AdvertiseUpdates)

			if tc.Repositories != nil {
				require.Equal(t, tc.Repositories, conf.Repositories)
			} else {
				require.Empty(t, conf.Repositories)
			}
		})
	}
}

func TestRepositoryRootPath(t *testing.T) {
	require.Equal(t, "", Repository{Index: 0}.RootPath())
	require.Equal(t, "/3", Repository{Index: 3}.RootPath())
}

func TestServedRepositories(t *testing.T) {
	defaults := Config{}.ServedRepositories("/ostree/repo", "eos")
	require.Equal(t, []Repository{{Index: 0, Path: "/ostree/repo", RemoteName: "eos"}}, defaults)

	conf := Config{Repositories: []Repository{{Index: 1, Path: "/srv/repo", RemoteName: "flathub"}}}
	require.Equal(t, conf.Repositories, conf.ServedRepositories("/ostree/repo", "eos"))
}

func TestLoadSearchPaths(t *testing.T) {
	dir := t.TempDir()

	primary := filepath.Join(dir, "etc.conf")
	fallback := filepath.Join(dir, "share.conf")

	conf, err := Load(primary, fallback)
	require.NoError(t, err)
	require.False(t, conf.AdvertiseUpdates)
	require.Empty(t, conf.Path)

	writeFile(t, fallback, "[Local Network Updates]\nAdvertiseUpdates=true\n")

	conf, err = Load(primary, fallback)
	require.NoError(t, err)
	require.True(t, conf.AdvertiseUpdates)
	require.Equal(t, fallback, conf.Path)

	writeFile(t, primary, "[Local Network Updates]\nAdvertiseUpdates=false\n")

	conf, err = Load(primary, fallback)
	require.NoError(t, err)
	require.False(t, conf.AdvertiseUpdates)
	require.Equal(t, primary, conf.Path)
}

func TestLoadReadError(t *testing.T) {
	dir := t.TempDir()

	// A directory in place of the file cannot be read.
	path := filepath.Join(dir, "server.conf")
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err := Load(path)
	require.True(t, errors.Is(err, ErrConfigRead), "unexpected error: %+v", err)
}

func TestStoreRetainsPreviousOnReadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.conf")

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=true\n")

	store := NewStore([]string{path})

	conf, err := store.Load()
	require.NoError(t, err)
	require.True(t, conf.AdvertiseUpdates)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	conf, err = store.Load()
	require.True(t, errors.Is(err, ErrConfigRead))
	require.True(t, conf.AdvertiseUpdates)
	require.True(t, store.Current().AdvertiseUpdates)
}

func TestStoreParseErrorDisables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.conf")

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=true\n")

	store := NewStore([]string{path})

	_, err := store.Load()
	require.NoError(t, err)

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=garbage\n")

	conf, err := store.Load()
	require.NoError(t, err)
	require.False(t, conf.AdvertiseUpdates)
	require.False(t, store.Current().AdvertiseUpdates)
}

func TestStoreWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.conf")

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=true\n")

	store := NewStore([]string{path}, WithDebounce(20*time.Millisecond, 200*time.Millisecond))

	baseline, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 16)
	done := make(chan error, 1)

	go func() {
		done <- store.Watch(ctx, baseline, func(conf Config) {
			changes <- conf
		})
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=false\n")
	require.False(t, waitChange(t, changes).AdvertiseUpdates)

	// Still disabled once the file is gone.
	require.NoError(t, os.Remove(path))
	requireNoChange(t, changes)

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=false\n")
	requireNoChange(t, changes)

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=false\n\n[Repository 1]\nPath=/a\nRemoteName=a\n")
	served := waitChange(t, changes)
	require.False(t, served.AdvertiseUpdates)
	require.Len(t, served.Repositories, 1)

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=true\n\n[Repository 1]\nPath=/a\nRemoteName=a\n")
	require.True(t, waitChange(t, changes).AdvertiseUpdates)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancellation")
	}
}

func TestStoreWatchReportsDriftFromBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.conf")

	writeFile(t, path, "[Local Network Updates]\nAdvertiseUpdates=false\n")

	store := NewStore([]string{path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 1)

	go func() {
		_ = store.Watch(ctx, Config{AdvertiseUpdates: true}, func(conf Config) {
			changes <- conf
		})
	}()

	require.False(t, waitChange(t, changes).AdvertiseUpdates)
}

func waitChange(t *testing.T, changes <-chan Config) Config {
	t.Helper()

	select {
	case conf := <-changes:
		return conf
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for configuration change")
		return Config{}
	}
}

func requireNoChange(t *testing.T, changes <-chan Config) {
	t.Helper()

	select {
	case conf := <-changes:
		t.Fatalf("unexpected configuration change: %+v", conf)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestConfigEqual(t *testing.T) {
	repos := []Repository{{Index: 1, Path: "/a", RemoteName: "a"}}

	require.True(t, Config{Path: "/etc/a.conf"}.Equal(Config{Path: "/usr/b.conf"}))
	require.True(t, Config{AdvertiseUpdates: true, Repositories: repos}.Equal(Config{AdvertiseUpdates: true, Repositories: []Repository{repos[0]}}))
	require.False(t, Config{AdvertiseUpdates: true}.Equal(Config{}))
	require.False(t, Config{Repositories: repos}.Equal(Config{}))
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("%+v", errors.WithStack(err))
	}
}
