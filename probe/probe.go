package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// EmptyToken is the fingerprint of a repository without any tracked ref.
const EmptyToken = ""

const (
	DefaultRepoPath = "/ostree/repo"
	DefaultRemote   = "eos"
)

// DefaultSlots are the deployment refs OSTree keeps for each
// bootversion/subbootversion pair. Not all of them exist on a given machine.
var DefaultSlots = []string{"0/0", "0/1", "1/0", "1/1"}

var ErrProbe = errors.New("could not probe repository")

type Ref struct {
	// Name of the ref relative to refs/heads, e.g. ostree/1/1/0.
	Name     string
	Checksum string
	ModTime  time.Time
}

type State struct {
	Token string
	Refs  []Ref
	// Latest is the most recent modification time of the tracked refs.
	Latest time.Time
	// OSTreePath is the URL path of the served remote, when known.
	OSTreePath string
}

func (s State) Empty() bool {
	return s.Token == EmptyToken
}

type Probe struct {
	repoPath string
	remote   string
	slots    []string
	opts     *Options
}

func New(repoPath string, funcs ...OptionFunc) *Probe {
	opts := NewOptions(funcs...)

	return &Probe{
		repoPath: repoPath,
		remote:   opts.Remote,
		slots:    opts.Slots,
		opts:     opts,
	}
}

// RefPath returns the on-disk path of the deployment ref for the given slot.
func (p *Probe) RefPath(slot string) string {
	return filepath.Join(p.repoPath, "refs", "heads", refName(slot))
}

// Fingerprint summarizes the tracked refs. An unreadable repository yields the
// empty state along with an ErrProbe error.
func (p *Probe) Fingerprint() (State, error) {
	if _, err := os.Stat(p.repoPath); err != nil {
		return State{}, errors.Wrapf(ErrProbe, "'%s': %s", p.repoPath, err.Error())
	}

	refs := make([]Ref, 0, len(p.slots))

	for _, slot := range p.slots {
		ref, exists, err := p.readRef(slot)
		if err != nil {
			return State{}, errors.WithStack(err)
		}

		if !exists {
			continue
		}

		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return State{}, nil
	}

	slices.SortFunc(refs, func(a, b Ref) int {
		return strings.Compare(a.Name, b.Name)
	})

	hash := sha256.New()
	state := State{Refs: refs}

	for _, r := range refs {
		fmt.Fprintf(hash, "%s\x00%s\x00%d\n", r.Name, r.Checksum, r.ModTime.UnixNano())

		if r.ModTime.After(state.Latest) {
			state.Latest = r.ModTime
		}
	}

	state.Token = hex.EncodeToString(hash.Sum(nil))

	ostreePath, err := p.remotePath()
	if err != nil {
		p.opts.Logger.Debug("could not resolve remote url path", slog.String("remote", p.remote), slog.Any("error", err))
	}

	state.OSTreePath = ostreePath

	return state, nil
}

func (p *Probe) readRef(slot string) (Ref, bool, error) {
	refPath := p.RefPath(slot)

	info, err := os.Stat(refPath)
	if errors.Is(err, os.ErrNotExist) {
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, errors.Wrapf(ErrProbe, "'%s': %s", refPath, err.Error())
	}

	if info.IsDir() {
		return Ref{}, false, nil
	}

	data, err := os.ReadFile(refPath)
	if errors.Is(err, os.ErrNotExist) {
		// Replaced between stat and read, the watch will pick up the new one.
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, errors.Wrapf(ErrProbe, "'%s': %s", refPath, err.Error())
	}

	return Ref{
		Name:     refName(slot),
		Checksum: strings.TrimSpace(string(data)),
		ModTime:  info.ModTime(),
	}, true, nil
}

// remotePath reads the url of the served remote from the repository config
// and returns its path component.
func (p *Probe) remotePath() (string, error) {
	if p.remote == "" {
		return "", nil
	}

	file, err := ini.Load(filepath.Join(p.repoPath, "config"))
	if err != nil {
		return "", errors.WithStack(err)
	}

	section, err := file.GetSection(fmt.Sprintf("remote \"%s\"", p.remote))
	if err != nil {
		return "", errors.WithStack(err)
	}

	rawURL := section.Key("url").String()
	if rawURL == "" {
		return "", errors.Errorf("remote '%s' has no url", p.remote)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "could not parse url of remote '%s'", p.remote)
	}

	return u.Path, nil
}

func refName(slot string) string {
	return path.Join("ostree", slot, "0")
}
