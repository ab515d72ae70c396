package config

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

const (
	SectionLocalNetworkUpdates = "Local Network Updates"
	KeyAdvertiseUpdates        = "AdvertiseUpdates"

	repositorySectionPrefix = "Repository "
)

// Default configuration file locations, most important first.
var DefaultSearchPaths = []string{
	"/etc/eos-updater/eos-update-server.conf",
	"/usr/local/share/eos-updater/eos-update-server.conf",
	"/usr/share/eos-updater/eos-update-server.conf",
}

var (
	ErrConfigRead  = errors.New("could not read configuration file")
	ErrConfigParse = errors.New("invalid configuration file")
)

type Repository struct {
	Index      uint   `mapstructure:"-"`
	Path       string `mapstructure:"Path" validate:"required"`
	RemoteName string `mapstructure:"RemoteName" validate:"required,excludesall=/: "`
}

// RootPath is the URL prefix the repository is served under. Repository 0
// keeps the bare root for clients that only know about a single repository.
func (r Repository) RootPath() string {
	if r.Index == 0 {
		return ""
	}

	return "/" + strconv.FormatUint(uint64(r.Index), 10)
}

type Config struct {
	// Path of the file the configuration was loaded from, empty when no file
	// was found.
	Path             string
	AdvertiseUpdates bool
	Repositories     []Repository
}

// ServedRepositories returns the configured repositories, or a single
// repository at the URL root built from the given defaults when the file
// declares none.
func (c Config) ServedRepositories(defaultPath, defaultRemote string) []Repository {
	if len(c.Repositories) > 0 {
		return c.Repositories
	}

	return []Repository{{Index: 0, Path: defaultPath, RemoteName: defaultRemote}}
}

// Equal reports whether both configurations advertise and serve the same
// repositories, regardless of the file they were read from.
func (c Config) Equal(other Config) bool {
	return c.AdvertiseUpdates == other.AdvertiseUpdates && slices.Equal(c.Repositories, other.Repositories)
}

// Parse decodes the content of a configuration file. A missing section or key
// is not an error and leaves advertisement disabled.
func Parse(data []byte) (Config, error) {
	var conf Config

	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return Config{}, errors.Wrap(ErrConfigParse, err.Error())
	}

	if section, err := file.GetSection(SectionLocalNetworkUpdates); err == nil && section.HasKey(KeyAdvertiseUpdates) {
		enabled, err := parseBool(section.Key(KeyAdvertiseUpdates).String())
		if err != nil {
			return Config{}, errors.Wrapf(ErrConfigParse, "key '%s': %s", KeyAdvertiseUpdates, err.Error())
		}

		conf.AdvertiseUpdates = enabled
	}

	repositories, err := parseRepositories(file)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}

	conf.Repositories = repositories

	return conf, nil
}

func parseRepositories(file *ini.File) ([]Repository, error) {
	validate := validator.New()
	repositories := make([]Repository, 0)

	for _, section := range file.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, repositorySectionPrefix) {
			continue
		}

		index, err := strconv.ParseUint(strings.TrimPrefix(name, repositorySectionPrefix), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(ErrConfigParse, "invalid group name '%s'", name)
		}

		var repo Repository
		if err := mapstructure.Decode(section.KeysHash(), &repo); err != nil {
			return nil, errors.Wrapf(ErrConfigParse, "could not decode group '%s': %s", name, err.Error())
		}

		if err := validate.Struct(&repo); err != nil {
			return nil, errors.Wrapf(ErrConfigParse, "invalid group '%s': %s", name, err.Error())
		}

		repo.Index = uint(index)

		exists := slices.ContainsFunc(repositories, func(r Repository) bool {
			return r.Index == repo.Index
		})
		if exists {
			return nil, errors.Wrapf(ErrConfigParse, "duplicate group name '%s'", name)
		}

		repositories = append(repositories, repo)
	}

	slices.SortFunc(repositories, func(a, b Repository) int {
		return int(a.Index) - int(b.Index)
	})

	return repositories, nil
}

// Load reads the first existing file of the given paths. When none exist the
// returned configuration is disabled and no error is reported.
//
// A file that exists but cannot be read yields ErrConfigRead; a file that
// cannot be parsed yields ErrConfigParse along with a disabled configuration.
func Load(paths ...string) (Config, error) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return Config{}, errors.Wrapf(ErrConfigRead, "'%s': %s", path, err.Error())
		}

		conf, err := Parse(data)
		if err != nil {
			return Config{Path: path}, errors.Wrapf(err, "'%s'", path)
		}

		conf.Path = path

		return conf, nil
	}

	return Config{}, nil
}

// GLib key files only accept these spellings for booleans.
func parseBool(raw string) (bool, error) {
	switch strings.TrimSpace(raw) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, errors.Errorf("invalid boolean value '%s'", raw)
	}
}
