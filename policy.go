package lanupdate

import (
	"net/http"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidRef = errors.New("invalid ref request")

// ObjectSuffixes lists the object kinds that are served from disk as they
// are.
var ObjectSuffixes = []string{
	".commit",
	".commitmeta",
	".dirmeta",
	".dirtree",
	".filez",
	".sig",
	".sizes2",
}

const (
	prefixObjects    = "/objects/"
	prefixDeltas     = "/deltas/"
	prefixExtensions = "/extensions/"
	prefixRefsHeads  = "/refs/heads/"
)

// ContainsDotDot reports whether any element of the slash separated name is
// "..".
func ContainsDotDot(name string) bool {
	return slices.Contains(strings.Split(name, "/"), "..")
}

// PolicyFileSystem restricts a repository tree to the files an OSTree client
// pulls. Branch heads missing from refs/heads are looked up among the refs of
// the configured remote.
type PolicyFileSystem struct {
	backend http.FileSystem
	remote  string
}

// Open implements [http.FileSystem].
func (fs *PolicyFileSystem) Open(name string) (http.File, error) {
	if ContainsDotDot(name) {
		return nil, os.ErrPermission
	}

	name = path.Clean("/" + name)

	switch {
	case strings.HasPrefix(name, prefixObjects):
		if !hasObjectSuffix(name) {
			return nil, os.ErrNotExist
		}

		return fs.openFile(name)

	case strings.HasPrefix(name, prefixDeltas), strings.HasPrefix(name, prefixExtensions):
		return fs.openFile(name)

	case name == "/summary", name == "/summary.sig":
		return fs.openFile(name)

	case name+"/" == prefixRefsHeads:
		return nil, errors.WithStack(ErrInvalidRef)

	case strings.HasPrefix(name, prefixRefsHeads):
		file, err := fs.openFile(name)
		if err == nil || !errors.Is(err, os.ErrNotExist) || fs.remote == "" {
			return file, err
		}

		head := strings.TrimPrefix(name, prefixRefsHeads)

		return fs.openFile(path.Join("/refs/remotes", fs.remote, head))

	default:
		return nil, os.ErrNotExist
	}
}

// openFile opens name and refuses directories.
func (fs *PolicyFileSystem) openFile(name string) (http.File, error) {
	file, err := fs.backend.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}

	return file, nil
}

func hasObjectSuffix(name string) bool {
	for _, suffix := range ObjectSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

func NewPolicyFileSystem(backend http.FileSystem, remote string) *PolicyFileSystem {
	return &PolicyFileSystem{
		backend: backend,
		remote:  remote,
	}
}

func PolicyMiddleware(remote string) Middleware {
	return func(next http.FileSystem) http.FileSystem {
		return NewPolicyFileSystem(next, remote)
	}
}

var _ http.FileSystem = &PolicyFileSystem{}
