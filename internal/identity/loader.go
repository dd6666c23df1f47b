package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("identity config error")

const dateLayout = "2006-01-02"

// File mirrors one identity YAML file.
type File struct {
	Alias       string   `yaml:"alias,omitempty"`
	KeyPath     string   `yaml:"key_path" validate:"required"`
	KeyPassword string   `yaml:"key_password" validate:"required"`
	Birthdate   string   `yaml:"birthdate" validate:"required,datetime=2006-01-02"`
	Gender      string   `yaml:"gender" validate:"required,oneof=Male Female"`
	Country     string   `yaml:"country" validate:"required"`
	Consulates  []string `yaml:"consulates" validate:"required,min=1,dive,required"`
	Services    []string `yaml:"services,omitempty" validate:"omitempty,dive,required"`
	Service     string   `yaml:"service,omitempty"` // single service, older files
	ForMyself   *bool    `yaml:"for_myself,omitempty"`
	MinDate     string   `yaml:"min_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DaysFromNow *int     `yaml:"days_from_now,omitempty" validate:"omitempty,gte=0"`
}

// Loader scans a directory of identity YAML files.
type Loader struct {
	usersDir  string
	keysDir   string
	fernetKey string
	statuses  *StatusStore
	validate  *validator.Validate
	log       zerolog.Logger
}

func NewLoader(usersDir, keysDir, fernetKey string, statuses *StatusStore, log zerolog.Logger) *Loader {
	return &Loader{
		usersDir:  usersDir,
		keysDir:   keysDir,
		fernetKey: fernetKey,
		statuses:  statuses,
		validate:  validator.New(),
		log:       log.With().Str("component", "identity_loader").Logger(),
	}
}

// Load parses every *.yaml file. Invalid files are skipped with a warning;
// a missing directory or zero valid identities is an ErrConfig.
func (l *Loader) Load() ([]*Identity, error) {
	info, err := os.Stat(l.usersDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: config directory does not exist: %s", ErrConfig, l.usersDir)
	}

	paths, err := filepath.Glob(filepath.Join(l.usersDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: glob: %v", ErrConfig, err)
	}
	sort.Strings(paths)

	var out []*Identity
	for _, p := range paths {
		id, err := l.ParseFile(p)
		if err != nil {
			l.log.Warn().Err(err).Str("file", filepath.Base(p)).Msg("skip invalid config")
			continue
		}
		out = append(out, id)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid user configurations found", ErrConfig)
	}
	return out, nil
}

// ParseFile reads and validates one identity file.
func (l *Loader) ParseFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, filepath.Base(path), err)
	}

	var raw File
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrConfig, filepath.Base(path), err)
	}
	if raw.Service != "" && len(raw.Services) == 0 {
		raw.Services = []string{raw.Service}
	}
	if err := l.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, filepath.Base(path), err)
	}
	if len(raw.Services) == 0 {
		return nil, fmt.Errorf("%w: %s: services must be a non-empty list", ErrConfig, filepath.Base(path))
	}

	alias := strings.TrimSpace(raw.Alias)
	if alias == "" {
		alias = AliasFromPath(path)
	}

	keyPath := raw.KeyPath
	if !filepath.IsAbs(keyPath) && l.keysDir != "" {
		keyPath = filepath.Join(l.keysDir, keyPath)
	}
	keyPath, err = filepath.Abs(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: key path: %v", ErrConfig, err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("%w: key file not found: %s", ErrConfig, keyPath)
	}

	if l.fernetKey == "" {
		return nil, fmt.Errorf("%w: FERNET_SECRET_KEY not set, cannot decrypt passwords", ErrConfig)
	}
	password, err := Decrypt(raw.KeyPassword, l.fernetKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decrypt key_password: %v", ErrConfig, err)
	}

	birthdate, _ := time.Parse(dateLayout, raw.Birthdate)

	id := &Identity{
		Alias:       alias,
		KeyPath:     keyPath,
		KeyPassword: password,
		Birthdate:   birthdate,
		Gender:      Gender(raw.Gender),
		Country:     strings.TrimSpace(raw.Country),
		Consulates:  trimAll(raw.Consulates),
		Services:    trimAll(raw.Services),
		ForMyself:   raw.ForMyself == nil || *raw.ForMyself,
		DaysFromNow: raw.DaysFromNow,
		SourceFile:  path,
	}
	if raw.MinDate != "" {
		md, _ := time.Parse(dateLayout, raw.MinDate)
		id.MinDate = &md
		id.DaysFromNow = nil
	}

	statuses := StatusMap{}
	if l.statuses != nil {
		statuses, err = l.statuses.Load(alias)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	id.SetStatuses(statuses)

	return id, nil
}

// AliasFromPath derives the alias from the file name stem.
func AliasFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
