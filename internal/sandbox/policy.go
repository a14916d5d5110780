// Package sandbox runs generated Go snippets in a yaegi interpreter bounded
// by an import allow-list, a timeout and an output cap.
package sandbox

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/deepresearch/config"
)

// DefaultAllowedImports are the packages generated code may use.
var DefaultAllowedImports = []string{
	"bytes", "encoding/json", "errors", "fmt", "math", "math/big", "regexp",
	"sort", "strconv", "strings", "time", "unicode", "unicode/utf8",
}

// Policy represents sandbox settings.
type Policy struct {
	Provider       string   `yaml:"provider"`
	Memory         string   `yaml:"memory"`
	Timeout        string   `yaml:"timeout"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
	AllowedImports []string `yaml:"allowed_imports"`
	Network        struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"network"`
}

// LoadPolicy reads security.policy_file when set and fills gaps from the
// security config section.
func LoadPolicy(cfg config.SecurityConfig) (*Policy, error) {
	var policy Policy
	if path := strings.TrimSpace(cfg.PolicyFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		var doc struct {
			Sandbox Policy `yaml:"sandbox"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse policy: %w", err)
		}
		policy = doc.Sandbox
	}
	if policy.Provider == "" {
		policy.Provider = cfg.SandboxProvider
	}
	if policy.Timeout == "" {
		policy.Timeout = cfg.DefaultTimeout.String()
	}
	if policy.Memory == "" {
		policy.Memory = cfg.DefaultMemory
	}
	if policy.MaxOutputBytes <= 0 {
		policy.MaxOutputBytes = cfg.MaxOutputBytes
	}
	if len(policy.AllowedImports) == 0 {
		policy.AllowedImports = append([]string(nil), DefaultAllowedImports...)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate rejects policies the interpreter cannot honour.
func (p *Policy) Validate() error {
	if p.Provider != "yaegi" {
		return fmt.Errorf("sandbox provider %q not supported", p.Provider)
	}
	if p.Network.Enabled {
		return fmt.Errorf("network access cannot be enabled for the interpreter sandbox")
	}
	if d, err := time.ParseDuration(p.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid sandbox timeout %q", p.Timeout)
	}
	for _, imp := range p.AllowedImports {
		if forbiddenImport(imp) {
			return fmt.Errorf("import %q cannot be allowed", imp)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed timeout.
func (p *Policy) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

func forbiddenImport(pkg string) bool {
	switch {
	case pkg == "os", pkg == "unsafe", pkg == "syscall", pkg == "plugin", pkg == "reflect":
		return true
	case strings.HasPrefix(pkg, "os/"), strings.HasPrefix(pkg, "net"), strings.HasPrefix(pkg, "runtime"):
		return true
	}
	return false
}

func parseMemoryBytes(value string) float64 {
	val := strings.TrimSpace(strings.ToLower(value))
	if val == "" {
		return 0
	}
	units := []struct {
		suffix string
		mult   float64
	}{
		{"kib", 1024}, {"mib", math.Pow(1024, 2)}, {"gib", math.Pow(1024, 3)},
		{"kb", 1024}, {"mb", math.Pow(1024, 2)}, {"gb", math.Pow(1024, 3)},
		{"ki", 1024}, {"mi", math.Pow(1024, 2)}, {"gi", math.Pow(1024, 3)},
		{"k", 1024}, {"m", math.Pow(1024, 2)}, {"g", math.Pow(1024, 3)},
		{"b", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(val, u.suffix) {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(val, u.suffix)), 64)
			if err != nil {
				return 0
			}
			return f * u.mult
		}
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	return 0
}
