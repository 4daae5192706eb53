// Package config loads heapctl settings from TOML.
//
// Loading starts from Default, decodes the file over it (keys absent from the
// file keep their defaults), applies HEAPKIT_* environment overrides and
// validates the result. Unknown keys are rejected.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/joshuapare/heapkit/alloc"
	"github.com/joshuapare/heapkit/alloc/staging"
	"github.com/joshuapare/heapkit/backing"
	"github.com/joshuapare/heapkit/internal/format"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("config: invalid")

// Backing store kinds.
const (
	BackingHeap = "heap"
	BackingMmap = "mmap"
)

// Config is the full heapctl configuration.
type Config struct {
	Router   RouterConfig   `toml:"router"`
	Staging  StagingConfig  `toml:"staging"`
	Backing  BackingConfig  `toml:"backing"`
	Workload WorkloadConfig `toml:"workload"`
}

// RouterConfig mirrors alloc.Options.
type RouterConfig struct {
	MinPageSize  uint64 `toml:"min_page_size"`
	MinAlignment uint64 `toml:"min_alignment"`
	MaxPageSize  uint64 `toml:"max_page_size"`
}

// StagingConfig mirrors staging.Options.
type StagingConfig struct {
	HeapClass    int    `toml:"heap_class"`
	PageSize     uint64 `toml:"page_size"`
	MaxPageSize  uint64 `toml:"max_page_size"`
	MinAlignment uint64 `toml:"min_alignment"`
	SyncAtom     uint64 `toml:"sync_atom"`
	Coherent     bool   `toml:"coherent"`
	Kind         string `toml:"kind"`
}

// BackingConfig selects the backing-store factory.
type BackingConfig struct {
	Kind        string `toml:"kind"`         // heap | mmap
	Dir         string `toml:"dir"`          // mmap: file-backed blocks when set
	Limit       uint64 `toml:"limit"`        // heap: byte budget, 0 = unlimited
	HostVisible []int  `toml:"host_visible"` // heap: classes that get host memory
}

// WorkloadConfig drives the synthetic heapctl workloads.
type WorkloadConfig struct {
	Seed        int64    `toml:"seed"`
	Ops         int      `toml:"ops"`
	MinSize     uint64   `toml:"min_size"`
	MaxSize     uint64   `toml:"max_size"`
	Alignments  []uint64 `toml:"alignments"`
	HeapClasses []int    `toml:"heap_classes"`
	FreeRatio   float64  `toml:"free_ratio"`
	Cycles      int      `toml:"cycles"`
	Workers     int      `toml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Router: RouterConfig{
			MinPageSize:  alloc.DefaultMinPageSize,
			MinAlignment: 8,
			MaxPageSize:  alloc.DefaultMaxPageSize,
		},
		Staging: StagingConfig{
			HeapClass:    1,
			PageSize:     staging.DefaultPageSize,
			MaxPageSize:  staging.DefaultMaxPageSize,
			MinAlignment: 256,
			Kind:         staging.KindUpload.String(),
		},
		Backing: BackingConfig{
			Kind:        BackingHeap,
			HostVisible: []int{1},
		},
		Workload: WorkloadConfig{
			Seed:        42,
			Ops:         2000,
			MinSize:     256,
			MaxSize:     256 << 10,
			Alignments:  []uint64{16, 256, 4096},
			HeapClasses: []int{0, 1},
			FreeRatio:   0.4,
			Cycles:      4,
			Workers:     4,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()
	return c.Decode(f, path)
}

// Decode reads TOML from r over c. name labels errors.
func (c *Config) Decode(r io.Reader, name string) error {
	md, err := toml.NewDecoder(r).Decode(c)
	if err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.Wrapf(ErrInvalid, "%s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from HEAPKIT_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HEAPKIT_BACKING"); ok && v != "" {
		c.Backing.Kind = v
	}
	if v, ok := lookup("HEAPKIT_BACKING_DIR"); ok {
		c.Backing.Dir = v
	}
	if v, ok := lookup("HEAPKIT_SEED"); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(ErrInvalid, "HEAPKIT_SEED=%q", v)
		}
		c.Workload.Seed = seed
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.RouterOptions().Validate(); err != nil {
		return errors.Mark(errors.Wrap(err, "[router]"), ErrInvalid)
	}
	opts, err := c.StagingOptions()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "[staging]"), ErrInvalid)
	}
	if err := opts.Validate(); err != nil {
		return errors.Mark(errors.Wrap(err, "[staging]"), ErrInvalid)
	}

	switch c.Backing.Kind {
	case BackingHeap, BackingMmap:
	default:
		return errors.Wrapf(ErrInvalid, "[backing] kind %q", c.Backing.Kind)
	}
	for _, hc := range c.Backing.HostVisible {
		if !validClass(hc) {
			return errors.Wrapf(ErrInvalid, "[backing] host_visible class %d", hc)
		}
	}

	w := c.Workload
	switch {
	case w.Ops < 0 || w.Cycles < 0 || w.Workers < 0:
		return errors.Wrap(ErrInvalid, "[workload] counts must not be negative")
	case w.MinSize == 0 || w.MaxSize < w.MinSize:
		return errors.Wrapf(ErrInvalid, "[workload] size range [%d, %d]", w.MinSize, w.MaxSize)
	case w.FreeRatio < 0 || w.FreeRatio >= 1:
		return errors.Wrapf(ErrInvalid, "[workload] free_ratio %v", w.FreeRatio)
	case len(w.Alignments) == 0 || len(w.HeapClasses) == 0:
		return errors.Wrap(ErrInvalid, "[workload] alignments and heap_classes must not be empty")
	}
	for _, a := range w.Alignments {
		if !format.IsPow2(a) {
			return errors.Wrapf(ErrInvalid, "[workload] alignment %d", a)
		}
	}
	for _, hc := range w.HeapClasses {
		if !validClass(hc) {
			return errors.Wrapf(ErrInvalid, "[workload] heap class %d", hc)
		}
	}
	return nil
}

func validClass(hc int) bool {
	return hc >= 0 && hc < backing.MaxHeapClasses
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// RouterOptions converts the [router] section.
func (c *Config) RouterOptions() *alloc.Options {
	return &alloc.Options{
		MinPageSize:  c.Router.MinPageSize,
		MinAlignment: c.Router.MinAlignment,
		MaxPageSize:  c.Router.MaxPageSize,
	}
}

// StagingOptions converts the [staging] section.
func (c *Config) StagingOptions() (staging.Options, error) {
	kind, err := staging.ParseKind(c.Staging.Kind)
	if err != nil {
		return staging.Options{}, err
	}
	if !validClass(c.Staging.HeapClass) {
		return staging.Options{}, errors.Wrapf(ErrInvalid, "heap class %d", c.Staging.HeapClass)
	}
	return staging.Options{
		HeapClass:   backing.HeapClass(c.Staging.HeapClass),
		PageSize:    c.Staging.PageSize,
		MaxPageSize: c.Staging.MaxPageSize,
		Granularity: c.Staging.MinAlignment,
		SyncAtom:    c.Staging.SyncAtom,
		Coherent:    c.Staging.Coherent,
		Kind:        kind,
	}, nil
}

// Factory builds the configured backing-store factory.
func (c *Config) Factory() (backing.Factory, error) {
	switch c.Backing.Kind {
	case BackingHeap:
		classes := make([]backing.HeapClass, 0, len(c.Backing.HostVisible))
		for _, hc := range c.Backing.HostVisible {
			classes = append(classes, backing.HeapClass(hc))
		}
		return backing.NewHeapFactory(
			backing.WithHostVisible(classes...),
			backing.WithLimit(c.Backing.Limit),
		), nil
	case BackingMmap:
		return backing.NewMmapFactory(c.Backing.Dir), nil
	default:
		return nil, errors.Wrapf(ErrInvalid, "backing kind %q", c.Backing.Kind)
	}
}
