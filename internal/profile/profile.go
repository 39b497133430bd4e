// Package profile loads per-site cluster settings from an optional TOML
// file: default queue and account, module loads, GPU placement, extra
// scheduler directives. The zero value is a usable profile; every field
// has a working default in the backends.
package profile

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"drover/internal/apperrors"
)

// PBS resource request styles.
const (
	ResourceStyleSelect = "select" // OpenPBS: -l select=1:ncpus=4
	ResourceStyleNodes  = "nodes"  // Torque: -l nodes=1:ppn=4
)

// Profile carries site defaults the environment variables cannot express.
type Profile struct {
	DefaultQueue string            `toml:"default_queue"`
	Account      string            `toml:"account"`
	Modules      []string          `toml:"modules"`
	Env          map[string]string `toml:"env"`
	GPU          GPU               `toml:"gpu"`
	Slurm        Slurm             `toml:"slurm"`
	PBS          PBS               `toml:"pbs"`
	Docker       Docker            `toml:"docker"`
}

// GPU steers jobs that request GPUs.
type GPU struct {
	Queue   string   `toml:"queue"`   // partition/queue override for GPU jobs
	Gres    string   `toml:"gres"`    // SLURM gres type, count appended (default "gpu")
	Host    string   `toml:"host"`    // PBS node pin for GPU jobs
	Modules []string `toml:"modules"` // extra module loads for GPU jobs
}

type Slurm struct {
	ExtraDirectives []string `toml:"extra_directives"`
}

type PBS struct {
	ResourceStyle   string   `toml:"resource_style"` // select or nodes
	ExtraDirectives []string `toml:"extra_directives"`
}

type Docker struct {
	Image string `toml:"image"` // container image for script jobs
}

// Load reads a profile from path. An empty path yields the zero profile.
func Load(path string) (*Profile, error) {
	p := &Profile{}
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, p); err != nil {
		return nil, fmt.Errorf("load cluster profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	switch p.PBS.ResourceStyle {
	case "", ResourceStyleSelect, ResourceStyleNodes:
		return nil
	default:
		return apperrors.Validation("pbs.resource_style",
			fmt.Sprintf("must be %q or %q, got %q", ResourceStyleSelect, ResourceStyleNodes, p.PBS.ResourceStyle))
	}
}
