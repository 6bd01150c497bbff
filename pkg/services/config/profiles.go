package config

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"gopkg.in/ini.v1"
)

// Profile is one section of the profiles file: connection settings for a
// single platform account, project, workspace or cluster.
type Profile struct {
	Name     string
	Platform string
	values   map[string]string
}

func NewProfile(name, platform string, values map[string]string) Profile {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Profile{Name: name, Platform: platform, values: copied}
}

func (p Profile) Get(key string) string {
	return p.values[key]
}

func (p Profile) GetOr(key, fallback string) string {
	if v := p.values[key]; v != "" {
		return v
	}
	return fallback
}

// Require returns the value of key or a ConfigurationError naming the profile.
func (p Profile) Require(key string) (string, error) {
	v := p.values[key]
	if v == "" {
		return "", domain.NewConfigurationError("profile "+p.Name, fmt.Errorf("missing required key %q", key))
	}
	return v, nil
}

type Registry interface {
	GetProfiles(ctx context.Context) ([]Profile, error)
	GetProfile(ctx context.Context, name string) (Profile, error)
}

type cfgRegistry struct {
	cfg *ini.File
}

// NewRegistry loads a profiles file. source is a path or raw []byte content.
func NewRegistry(source any) (Registry, error) {
	cfg, err := ini.Load(source)
	if err != nil {
		return nil, domain.NewConfigurationError("load profiles", err)
	}
	return &cfgRegistry{cfg: cfg}, nil
}

func (cr *cfgRegistry) GetProfiles(_ context.Context) ([]Profile, error) {
	var profiles []Profile
	for _, section := range cr.cfg.Sections() {
		if len(section.Keys()) > 0 {
			profiles = append(profiles, toProfile(section))
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

func (cr *cfgRegistry) GetProfile(_ context.Context, name string) (Profile, error) {
	if name == "" {
		name = ini.DefaultSection
	}
	section, err := cr.cfg.GetSection(name)
	if err != nil || len(section.Keys()) == 0 {
		return Profile{}, domain.NewConfigurationError("load profiles", fmt.Errorf("profile %s not found", name))
	}
	return toProfile(section), nil
}

func toProfile(section *ini.Section) Profile {
	values := section.KeysHash()
	return NewProfile(section.Name(), inferPlatform(values), values)
}

// inferPlatform honours an explicit platform key and otherwise guesses from
// the keys that only one platform uses.
func inferPlatform(values map[string]string) string {
	if p := strings.TrimSpace(values["platform"]); p != "" {
		return strings.ToLower(p)
	}
	switch {
	case values["project"] != "":
		return "gcp"
	case values["aws_profile"] != "":
		return "aws"
	case values["subscription"] != "":
		return "azure"
	case values["host"] != "" && values["token"] != "":
		return "databricks"
	case values["account"] != "":
		return "snowflake"
	case values["kubeconfig"] != "" || values["namespace"] != "":
		return "kubernetes"
	case values["fixture"] != "":
		return "snapshot"
	}
	return ""
}
