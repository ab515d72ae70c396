package avahi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bornholm/lanupdate/advert"
	"github.com/bornholm/lanupdate/probe"
	"github.com/stretchr/testify/require"
)

func testDescriptor(token string) advert.Descriptor {
	return advert.NewDescriptor(43381, probe.State{
		Token:      token,
		Latest:     time.Unix(1_700_000_000, 0),
		OSTreePath: "/ostree/eos-amd64",
	})
}

func TestRender(t *testing.T) {
	data, err := Render(testDescriptor("cafe"))
	require.NoError(t, err)

	content := string(data)

	require.True(t, strings.HasPrefix(content, `<?xml version="1.0" standalone='no'?>`))
	require.Contains(t, content, `<!DOCTYPE service-group SYSTEM "avahi-service.dtd">`)
	require.Contains(t, content, `<name replace-wildcards="yes">EOS update service on %h</name>`)
	require.Contains(t, content, `<type>_eos_updater._tcp</type>`)
	require.Contains(t, content, `<port>43381</port>`)
	require.Contains(t, content, `<txt-record>eos_txt_version=1</txt-record>`)
	require.Contains(t, content, `<txt-record>eos_ostree_path=/ostree/eos-amd64</txt-record>`)
	require.Contains(t, content, `<txt-record>eos_head_commit_timestamp=1700000000</txt-record>`)
	require.Contains(t, content, `<txt-record>eos_fingerprint=cafe</txt-record>`)

	require.Less(t, strings.Index(content, "eos_txt_version"), strings.Index(content, "eos_ostree_path"))
}

func TestPublishAndWithdraw(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewPublisher(dir)

	require.Equal(t, filepath.Join(dir, FileName), p.Path())

	require.NoError(t, p.Publish(ctx, testDescriptor("one")))

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), "eos_fingerprint=one")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, p.Withdraw(ctx))
	_, err = os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))

	// Withdrawing twice is fine.
	require.NoError(t, p.Withdraw(ctx))
}

func TestPublishAdvancesModificationTime(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewPublisher(dir)

	// Freeze the clock in the past so the bump has to come from the previous mtime.
	p.now = func() time.Time { return time.Unix(1_000, 0) }

	require.NoError(t, p.Publish(ctx, testDescriptor("one")))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p.Path(), future, future))

	require.NoError(t, p.Publish(ctx, testDescriptor("two")))

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	require.True(t, info.ModTime().After(future), "expected %v to be after %v", info.ModTime(), future)

	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), "eos_fingerprint=two")
}

func TestPublishCreatesDirectory(t *testing.T) {
	p := NewPublisher(filepath.Join(t.TempDir(), "avahi", "services"))

	require.NoError(t, p.Publish(context.Background(), testDescriptor("one")))

	_, err := os.Stat(p.Path())
	require.NoError(t, err)
}

func TestPublishUnusableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "services")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	p := NewPublisher(file)

	err := p.Publish(context.Background(), testDescriptor("one"))
	require.Error(t, err)
}

func TestManagerWithAvahiPublisher(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewPublisher(dir)

	// A descriptor left over from a previous run is withdrawn on the first
	// disabled transition.
	require.NoError(t, os.WriteFile(p.Path(), []byte("stale"), 0o644))

	m := advert.NewManager(43381, advert.WithPublisher(Type, p))

	state := probe.State{
		Token:  "token",
		Latest: time.Unix(1_700_000_000, 0),
	}

	require.NoError(t, m.Apply(ctx, false, state))
	_, err := os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, m.Apply(ctx, true, state))
	first, err := os.Stat(p.Path())
	require.NoError(t, err)

	// Unchanged state leaves the file alone.
	past := first.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p.Path(), past, past))
	require.NoError(t, m.Apply(ctx, true, state))

	second, err := os.Stat(p.Path())
	require.NoError(t, err)
	require.True(t, second.ModTime().Equal(past))
}

func TestCreatePublisherFromOptions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "services")

	publisher, err := advert.New(Type, map[string]any{"dir": dir})
	require.NoError(t, err)
	require.IsType(t, &Publisher{}, publisher)

	// Nothing is created until a descriptor is published.
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	_, err = advert.New(Type, map[string]any{"dir": ""})
	require.Error(t, err)
}
