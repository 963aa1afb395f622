package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

const (
	// DefaultMaxDepth bounds directory recursion.
	DefaultMaxDepth = 15

	// DefaultMaskPattern skips names starting with "." or "_".
	DefaultMaskPattern = `^[^._]`
)

// DefaultMask is the compiled DefaultMaskPattern.
var DefaultMask = regexp.MustCompile(DefaultMaskPattern)

// Matcher decides whether a directory entry name is scanned.
type Matcher func(name string) bool

// MaskMatcher matches names accepted by re. A nil re matches everything.
func MaskMatcher(re *regexp.Regexp) Matcher {
	if re == nil {
		return func(string) bool { return true }
	}
	return re.MatchString
}

// Loader produces the value of a discovered module. Results are cached.
type Loader func() (any, error)

// Entry is one discovered module.
type Entry struct {
	// Name holds the path segments relative to the scan root, with the
	// file extension removed. It is empty when the root itself is a file.
	Name []string

	// Path is the file path within the filesystem.
	Path string

	// Load decodes the file on first call.
	Load Loader
}

// MountPath returns the namespace path of e below point.
func (e Entry) MountPath(point string) string {
	segments := strings.FieldsFunc(point, func(r rune) bool {
		return r == '.' || r == '/' || r == '\\'
	})
	return strings.Join(append(segments, e.Name...), ".")
}

// Config holds discoverer configuration.
type Config struct {
	// Fs is the filesystem scanned. Defaults to the OS filesystem.
	Fs afero.Fs

	// Decoders maps file extensions (with dot) to decoders. Defaults to
	// DefaultDecoders.
	Decoders map[string]Decoder

	// Logger receives scan messages. Nil disables logging.
	Logger *zerolog.Logger
}

// Discoverer walks a directory tree and reports decodable files as
// mountable modules.
type Discoverer struct {
	fs     afero.Fs
	logger zerolog.Logger

	mu       sync.RWMutex
	decoders map[string]Decoder
}

// New creates a discoverer over fs with the default decoders.
func New(fs afero.Fs) *Discoverer {
	return NewWithConfig(Config{Fs: fs})
}

// NewWithConfig creates a discoverer with the specified configuration.
func NewWithConfig(config Config) *Discoverer {
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	if config.Decoders == nil {
		config.Decoders = DefaultDecoders()
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "discovery").Logger()
	}

	decoders := make(map[string]Decoder, len(config.Decoders))
	for ext, dec := range config.Decoders {
		decoders[normalizeExt(ext)] = dec
	}
	return &Discoverer{fs: config.Fs, logger: logger, decoders: decoders}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Register adds or replaces the decoder for ext.
func (d *Discoverer) Register(ext string, dec Decoder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decoders[normalizeExt(ext)] = dec
}

// Extensions returns the registered extensions in sorted order.
func (d *Discoverer) Extensions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	exts := make([]string, 0, len(d.decoders))
	for ext := range d.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (d *Discoverer) decoder(path string) (Decoder, string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	d.mu.RLock()
	defer d.mu.RUnlock()
	dec, ok := d.decoders[ext]
	return dec, ext, ok
}

// Discover scans root. A directory is walked up to maxDepth levels, visiting
// only names accepted by match; every file with a registered extension
// becomes an Entry. A root that does not exist is retried with each
// registered extension appended. A root that cannot be found at all yields
// ErrNotFound.
func (d *Discoverer) Discover(root string, match Matcher, maxDepth int) ([]Entry, error) {
	if match == nil {
		match = MaskMatcher(DefaultMask)
	}
	if maxDepth < 0 {
		return nil, gberrors.NewValidationError("discovery", "maxDepth", maxDepth, "must be non-negative")
	}

	resolved, info, err := d.resolveRoot(root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if !info.IsDir() {
		if e, ok := d.entry(resolved, nil); ok {
			entries = append(entries, e)
		}
		return entries, nil
	}

	if err := d.scan(resolved, nil, match, maxDepth, &entries); err != nil {
		return nil, err
	}
	d.logger.Debug().Str("root", resolved).Int("entries", len(entries)).Msg("scan complete")
	return entries, nil
}

func (d *Discoverer) resolveRoot(root string) (string, os.FileInfo, error) {
	info, err := d.fs.Stat(root)
	if err == nil {
		return root, info, nil
	}
	if !os.IsNotExist(err) {
		return "", nil, gberrors.NewOperationError("discovery", "Discover", err).WithContext(root)
	}
	for _, ext := range d.Extensions() {
		candidate := root + ext
		if info, err := d.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, info, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", gberrors.ErrNotFound, root)
}

func (d *Discoverer) scan(dir string, prefix []string, match Matcher, limit int, out *[]Entry) error {
	if limit <= 0 {
		return nil
	}
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return gberrors.NewOperationError("discovery", "Discover", err).WithContext(dir)
	}
	for _, info := range infos {
		name := info.Name()
		if !match(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if info.IsDir() {
			next := append(append([]string(nil), prefix...), name)
			if err := d.scan(path, next, match, limit-1, out); err != nil {
				return err
			}
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if e, ok := d.entry(path, append(append([]string(nil), prefix...), base)); ok {
			*out = append(*out, e)
		}
	}
	return nil
}

func (d *Discoverer) entry(path string, name []string) (Entry, bool) {
	dec, ext, ok := d.decoder(path)
	if !ok {
		return Entry{}, false
	}
	d.logger.Debug().Str("file", path).Str("decoder", ext).Msg("discovered")

	return Entry{Name: name, Path: path, Load: d.loader(path, dec)}, true
}

func (d *Discoverer) loader(path string, dec Decoder) Loader {
	var (
		once  sync.Once
		value any
		err   error
	)
	return func() (any, error) {
		once.Do(func() {
			var data []byte
			data, err = afero.ReadFile(d.fs, path)
			if err != nil {
				err = gberrors.NewOperationError("discovery", "Load", err).WithContext(path)
				return
			}
			value, err = dec(data)
			if err != nil {
				err = gberrors.NewOperationError("discovery", "Load", err).WithContext(path)
			}
		})
		return value, err
	}
}
