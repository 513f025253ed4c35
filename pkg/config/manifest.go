package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/warden/pkg/access"
)

// Manifest is a declarative seed for the authority: roles, their
// configuration and initial members, and target function bindings. It
// is applied once at startup on behalf of the initial admin.
type Manifest struct {
	Roles   []RoleSeed   `yaml:"roles" json:"roles"`
	Targets []TargetSeed `yaml:"targets" json:"targets"`
}

// RoleSeed configures one role.
type RoleSeed struct {
	ID         uint64       `yaml:"id" json:"id"`
	Label      string       `yaml:"label,omitempty" json:"label,omitempty"`
	Admin      *uint64      `yaml:"admin,omitempty" json:"admin,omitempty"`
	Guardian   *uint64      `yaml:"guardian,omitempty" json:"guardian,omitempty"`
	GrantDelay string       `yaml:"grant_delay,omitempty" json:"grant_delay,omitempty"`
	Members    []MemberSeed `yaml:"members,omitempty" json:"members,omitempty"`
}

// MemberSeed grants a role to one account.
type MemberSeed struct {
	Account        string `yaml:"account" json:"account"`
	ExecutionDelay string `yaml:"execution_delay,omitempty" json:"execution_delay,omitempty"`
}

// TargetSeed configures one managed target.
type TargetSeed struct {
	Name       string         `yaml:"name" json:"name"`
	Closed     bool           `yaml:"closed,omitempty" json:"closed,omitempty"`
	AdminDelay string         `yaml:"admin_delay,omitempty" json:"admin_delay,omitempty"`
	Functions  []FunctionSeed `yaml:"functions,omitempty" json:"functions,omitempty"`
}

// FunctionSeed binds methods of a target to a required role.
type FunctionSeed struct {
	Methods []string `yaml:"methods" json:"methods"`
	Role    uint64   `yaml:"role" json:"role"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "roles": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id"],
        "properties": {
          "id": {"type": "integer", "minimum": 0},
          "label": {"type": "string"},
          "admin": {"type": "integer", "minimum": 0},
          "guardian": {"type": "integer", "minimum": 0},
          "grant_delay": {"type": "string"},
          "members": {
            "type": "array",
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["account"],
              "properties": {
                "account": {"type": "string", "minLength": 1},
                "execution_delay": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "targets": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "closed": {"type": "boolean"},
          "admin_delay": {"type": "string"},
          "functions": {
            "type": "array",
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["methods", "role"],
              "properties": {
                "methods": {
                  "type": "array",
                  "minItems": 1,
                  "items": {"type": "string", "minLength": 1}
                },
                "role": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledManifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://warden.schemas.local/manifest.schema.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// LoadManifest reads, validates and parses a YAML seed manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest validates YAML manifest bytes against the manifest
// schema and decodes them.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	// Round-trip through JSON so the schema validator sees JSON-native
	// types regardless of what the YAML decoder produced.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(jsonBytes, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

// Apply seeds the authority with the manifest's contents on behalf of
// caller. Members are granted before grant delays are raised so the
// seeded memberships take effect immediately; role admin handover runs
// last so the seeding caller keeps its power throughout.
func (m *Manifest) Apply(ctx context.Context, caller string, manager *access.Manager) error {
	for _, role := range m.Roles {
		id := access.RoleID(role.ID)
		if role.Label != "" {
			if err := manager.LabelRole(ctx, caller, id, role.Label); err != nil {
				return fmt.Errorf("seed role %d label: %w", role.ID, err)
			}
		}
		if role.Guardian != nil {
			if err := manager.SetRoleGuardian(ctx, caller, id, access.RoleID(*role.Guardian)); err != nil {
				return fmt.Errorf("seed role %d guardian: %w", role.ID, err)
			}
		}
		for _, member := range role.Members {
			execDelay, err := parseOptionalDuration(member.ExecutionDelay)
			if err != nil {
				return fmt.Errorf("seed role %d member %q: %w", role.ID, member.Account, err)
			}
			if _, err := manager.GrantRole(ctx, caller, id, member.Account, execDelay); err != nil {
				return fmt.Errorf("seed role %d member %q: %w", role.ID, member.Account, err)
			}
		}
		if role.GrantDelay != "" {
			grantDelay, err := parseOptionalDuration(role.GrantDelay)
			if err != nil {
				return fmt.Errorf("seed role %d grant delay: %w", role.ID, err)
			}
			if err := manager.SetGrantDelay(ctx, caller, id, grantDelay); err != nil {
				return fmt.Errorf("seed role %d grant delay: %w", role.ID, err)
			}
		}
		if role.Admin != nil {
			if err := manager.SetRoleAdmin(ctx, caller, id, access.RoleID(*role.Admin)); err != nil {
				return fmt.Errorf("seed role %d admin: %w", role.ID, err)
			}
		}
	}

	for _, target := range m.Targets {
		for _, fn := range target.Functions {
			if err := manager.SetTargetFunctionRole(ctx, caller, target.Name, fn.Methods, access.RoleID(fn.Role)); err != nil {
				return fmt.Errorf("seed target %q functions: %w", target.Name, err)
			}
		}
		if target.AdminDelay != "" {
			adminDelay, err := parseOptionalDuration(target.AdminDelay)
			if err != nil {
				return fmt.Errorf("seed target %q admin delay: %w", target.Name, err)
			}
			if err := manager.SetTargetAdminDelay(ctx, caller, target.Name, adminDelay); err != nil {
				return fmt.Errorf("seed target %q admin delay: %w", target.Name, err)
			}
		}
		if target.Closed {
			if err := manager.SetTargetClosed(ctx, caller, target.Name, true); err != nil {
				return fmt.Errorf("seed target %q closed: %w", target.Name, err)
			}
		}
	}
	return nil
}

func parseOptionalDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}
