package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/duynhne/trial-service/internal/core/domain"
)

// policyFile is the on-disk shape of the code-policy file:
//
//	codes:
//	  - code: SPRING90
//	    duration_minutes: 90
//	  - code: LIFETIME
//	    class: pro
//	    duration_minutes: -1
type policyFile struct {
	Codes []domain.CodePolicy `mapstructure:"codes"`
}

// LoadPolicies reads the configured code-policy file and applies the reserved
// overrides. An empty path yields a table holding only the reserved entries.
func LoadPolicies(cfg InviteConfig) (*domain.PolicyTable, error) {
	var entries []domain.CodePolicy
	if cfg.PolicyFile != "" {
		var err error
		entries, err = readPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
	}

	return domain.BuildPolicyTable(entries, cfg.Reserved()), nil
}

// Reserved returns the reserved policy entries described by the config.
func (c InviteConfig) Reserved() domain.Reserved {
	return domain.Reserved{
		DeveloperCode:      c.DeveloperCode,
		ProCode:            c.ProCode,
		ProDurationMinutes: c.ProDurationMinutes,
		DeprecatedCodes:    c.DeprecatedCodes,
	}
}

func readPolicyFile(path string) ([]domain.CodePolicy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var f policyFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal policy file %s: %w", path, err)
	}

	for i, p := range f.Codes {
		if p.Code == "" {
			return nil, fmt.Errorf("policy file %s: entry %d has no code", path, i)
		}
		if p.DurationMinutes == 0 || p.DurationMinutes < domain.UnlimitedMinutes {
			return nil, fmt.Errorf("policy file %s: code %s: duration_minutes must be positive or -1", path, p.Code)
		}
	}
	return f.Codes, nil
}
