// Package profile loads the optional per-sheet harvest profile.
package profile

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/extract"
)

// Profile tunes extraction and the render settle wait without a rebuild.
// The zero value reproduces base behavior exactly.
type Profile struct {
	ExcludeDomains       []string
	ExtraImageExtensions []string
	IdleWait             time.Duration
}

// Load reads a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", path)
	}

	// The YAML has a top-level "harvest" key.
	var wrapper struct {
		Harvest struct {
			ExcludeDomains       []string `yaml:"exclude_domains"`
			ExtraImageExtensions []string `yaml:"extra_image_extensions"`
			IdleWait             string   `yaml:"idle_wait"`
		} `yaml:"harvest"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "profile: parse %s", path)
	}

	p := &Profile{
		ExcludeDomains:       wrapper.Harvest.ExcludeDomains,
		ExtraImageExtensions: wrapper.Harvest.ExtraImageExtensions,
	}
	if raw := wrapper.Harvest.IdleWait; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "profile: parse idle_wait %q", raw)
		}
		p.IdleWait = d
	}
	return p, nil
}

// ExtractorOptions maps the profile onto extractor options. A nil profile
// yields the zero options.
func (p *Profile) ExtractorOptions() extract.Options {
	if p == nil {
		return extract.Options{}
	}
	return extract.Options{
		ExcludeDomains:       p.ExcludeDomains,
		ExtraImageExtensions: p.ExtraImageExtensions,
	}
}
