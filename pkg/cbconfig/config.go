// Package cbconfig holds the open-time options for a cheesebase database
// and their YAML (de)serialization, grounded on pkg/config/config.go's
// struct-tag style and DefaultConfig/Load/Validate trio.
package cbconfig

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcheese/cheesebase/pkg/page"
)

// Options configures how Database.Open sizes and opens the underlying
// file.
type Options struct {
	// CacheCapacity is the number of page slots the page cache holds
	// (pkg/pagecache.DefaultCapacity if zero).
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`

	// PageSize must equal page.Size; kept as an explicit, validated field
	// rather than a silent constant so a config file written against a
	// future different page size fails loudly instead of corrupting data.
	PageSize int `yaml:"page_size" json:"page_size"`

	// CreateIfMissing mirrors pagefile.OpenAlways vs OpenExisting: false
	// requires the file to already exist.
	CreateIfMissing bool `yaml:"create_if_missing" json:"create_if_missing"`

	// Source records where these options were loaded from (a path, or
	// "default"), for diagnostics only.
	Source string `yaml:"-" json:"-"`

	// Logger receives the database's log notices; Open logs one when it
	// initializes a new file. Defaults to log.Default() when nil.
	Logger *log.Logger `yaml:"-" json:"-"`
}

// DefaultOptions returns the options a freshly created database uses when
// the caller supplies none.
func DefaultOptions() *Options {
	return &Options{
		CacheCapacity:   0,
		PageSize:        page.Size,
		CreateIfMissing: true,
		Source:          "default",
		Logger:          log.Default(),
	}
}

// LoadOptions reads and parses a YAML options file, starting from
// DefaultOptions so a partial file only overrides what it mentions.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cbconfig.LoadOptions: %w", err)
	}

	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("cbconfig.LoadOptions: %w", err)
	}
	opts.Source = path

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate reports every problem with o at once, in the teacher's
// accumulate-then-join style.
func (o *Options) Validate() error {
	var errs []string

	if o.CacheCapacity < 0 {
		errs = append(errs, "cache_capacity must be non-negative")
	}
	if o.PageSize != page.Size {
		errs = append(errs, fmt.Sprintf("page_size must be %d", page.Size))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ToYAML serializes o, e.g. for the CLI's "config generate" subcommand.
func (o *Options) ToYAML() ([]byte, error) {
	return yaml.Marshal(o)
}
