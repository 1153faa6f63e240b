package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Platform identifies the host a backend is built for.
type Platform string

const (
	PlatformDesktop Platform = "desktop"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform maps a configuration value onto a Platform. The empty
// string means "detect".
func ParsePlatform(s string) (Platform, error) {
	if strings.TrimSpace(s) == "" {
		return DetectPlatform(), nil
	}
	p, ok := lookupPlatform(s)
	if !ok {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// lookupPlatform matches s against the known platform names.
func lookupPlatform(s string) (Platform, bool) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformDesktop, PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, true
	case "tauri":
		return PlatformDesktop, true
	default:
		return "", false
	}
}

// IsMobile reports whether p is a mobile platform.
func (p Platform) IsMobile() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// SupportsRealFileSystem reports whether the platform stores files in an
// operating system directory.
func (p Platform) SupportsRealFileSystem() bool {
	return p != PlatformWeb
}

// DefaultBasePath returns the base path used when none is configured.
func (p Platform) DefaultBasePath() string {
	switch {
	case p == PlatformDesktop:
		return DefaultDesktopBasePath
	case p.IsMobile():
		return DefaultMobileBasePath
	default:
		return ""
	}
}

var detectPlatform = sync.OnceValue(func() Platform {
	return detect(os.Getenv("FLOWY_PLATFORM"), runtime.GOOS)
})

// detect picks the platform from an override value, falling back to goos.
func detect(override, goos string) Platform {
	if p, ok := lookupPlatform(override); ok {
		return p
	}
	switch goos {
	case "ios":
		return PlatformIOS
	case "android":
		return PlatformAndroid
	case "js", "wasip1":
		return PlatformWeb
	default:
		return PlatformDesktop
	}
}

// DetectPlatform returns the host platform. It is computed once per
// process from $FLOWY_PLATFORM, falling back to runtime.GOOS.
func DetectPlatform() Platform {
	return detectPlatform()
}

// Options selects and configures a backend.
type Options struct {
	// Platform selects the backend. Empty means DetectPlatform.
	Platform Platform

	// BasePath is the data directory (desktop) or the directory inside
	// DocumentsDir (mobile).
	BasePath string

	// DocumentsDir overrides the mobile documents directory.
	DocumentsDir string

	// Database is the SQLite file of the web backend.
	Database string

	// Namespace scopes the web backend inside Database.
	Namespace string
}

// Constructor builds an adapter for a set of options.
type Constructor func(opts Options) (Adapter, error)

var (
	registry      = make(map[Platform]Constructor)
	registryMutex sync.RWMutex
)

func init() {
	Register(PlatformDesktop, func(opts Options) (Adapter, error) {
		return NewLocal(opts.BasePath)
	})
	mobile := func(opts Options) (Adapter, error) {
		return NewMobile(opts.DocumentsDir, opts.BasePath)
	}
	Register(PlatformIOS, mobile)
	Register(PlatformAndroid, mobile)
	Register(PlatformWeb, func(opts Options) (Adapter, error) {
		dbPath := opts.Database
		if dbPath == "" {
			dbPath = DefaultDatabasePath()
		}
		return OpenBrowser(dbPath, opts.Namespace)
	})
}

// DefaultDatabasePath returns the web backend database used when none is
// configured.
func DefaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "flowy", "web.db")
}

// Register installs the constructor for a platform. It panics if the
// platform already has one.
func Register(p Platform, c Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if c == nil {
		panic(fmt.Sprintf("fs: Register constructor is nil for platform %s", p))
	}
	if _, exists := registry[p]; exists {
		panic(fmt.Sprintf("fs: Register called twice for platform %s", p))
	}
	registry[p] = c
}

// RegisteredPlatforms returns every platform with a backend, sorted.
func RegisteredPlatforms() []Platform {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	out := make([]Platform, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open builds a new adapter for opts.
func Open(opts Options) (Adapter, error) {
	if opts.Platform == "" {
		opts.Platform = DetectPlatform()
	}
	registryMutex.RLock()
	c := registry[opts.Platform]
	registryMutex.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownPlatform, opts.Platform, RegisteredPlatforms())
	}

	a, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file system: %w", opts.Platform, err)
	}
	return a, nil
}

var (
	defaultMu       sync.Mutex
	defaultAdapters = make(map[Options]*SerializedAdapter)
)

// Default returns the shared, serialized adapter for opts, opening it on
// first use. Every caller asking for the same options gets the same
// instance; a different BasePath yields a different adapter.
func Default(opts Options) (*SerializedAdapter, error) {
	if opts.Platform == "" {
		opts.Platform = DetectPlatform()
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()

	if a, ok := defaultAdapters[opts]; ok {
		return a, nil
	}
	a, err := Open(opts)
	if err != nil {
		return nil, err
	}
	s := Serialized(a)
	defaultAdapters[opts] = s
	return s, nil
}

// ResetDefault forgets every shared adapter, closing those that hold
// resources.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	for key, a := range defaultAdapters {
		if c, ok := a.Unwrap().(interface{ Close() error }); ok {
			_ = c.Close()
		}
		delete(defaultAdapters, key)
	}
}
