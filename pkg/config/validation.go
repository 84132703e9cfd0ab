package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	structValidator *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// Validate checks cfg's struct tags and the cross-field constraints the
// tag language can't express (NQN uniqueness, each namespace's backend
// sub-struct actually being populated).
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Subsystems))
	for _, sub := range cfg.Subsystems {
		if seen[sub.NQN] {
			return fmt.Errorf("duplicate subsystem nqn %q", sub.NQN)
		}
		seen[sub.NQN] = true

		nsids := make(map[uint32]bool, len(sub.Namespaces))
		for _, ns := range sub.Namespaces {
			if nsids[ns.NSID] {
				return fmt.Errorf("subsystem %q: duplicate namespace nsid %d", sub.NQN, ns.NSID)
			}
			nsids[ns.NSID] = true

			switch ns.Backend {
			case "memory":
				if ns.Memory == nil {
					return fmt.Errorf("subsystem %q namespace %d: backend is memory but no memory config given", sub.NQN, ns.NSID)
				}
			case "s3":
				if ns.S3 == nil {
					return fmt.Errorf("subsystem %q namespace %d: backend is s3 but no s3 config given", sub.NQN, ns.NSID)
				}
			}
		}
	}
	return nil
}
