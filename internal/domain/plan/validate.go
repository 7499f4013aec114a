package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

var (
	ErrNoPhases       = errors.New("at least one phase is required")
	ErrDuplicateID    = errors.New("duplicate node id")
	ErrTwoActive      = errors.New("post has more than one active variant")
	ErrUnknownEdgeEnd = errors.New("edge references an unknown node")
)

var validate = validator.New()

// Validate checks the seed for structural correctness. Graph invariants
// (DAG, phase order) are checked by Build.
func (s *Seed) Validate() error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, ErrNoPhases)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, describe(err))
	}

	seen := make(map[string]struct{})
	add := func(id string) error {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %w %q", domain.ErrValidation, ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, ph := range s.Phases {
		if err := add(ph.ID); err != nil {
			return err
		}
		for _, ch := range ph.Channels {
			if err := add(ch.ID); err != nil {
				return err
			}
			for _, cmp := range ch.Campaigns {
				if err := add(cmp.ID); err != nil {
					return err
				}
				for _, p := range cmp.Posts {
					if err := add(p.ID); err != nil {
						return err
					}
					active := 0
					for _, v := range p.Variants {
						if err := add(v.ID); err != nil {
							return err
						}
						if v.Active {
							active++
						}
					}
					if active > 1 {
						return fmt.Errorf("%w: %w: %s", domain.ErrValidation, ErrTwoActive, p.ID)
					}
				}
			}
		}
	}
	for _, e := range s.Edges {
		for _, id := range []string{e.From, e.To} {
			if _, ok := seen[id]; !ok {
				return fmt.Errorf("%w: %w: %s", domain.ErrValidation, ErrUnknownEdgeEnd, id)
			}
		}
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", strings.TrimPrefix(e.Namespace(), "Seed."), e.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// Decode reads a YAML or JSON seed.
func Decode(data []byte) (*Seed, error) {
	var s Seed
	trimmed := strings.TrimSpace(string(data))
	var err error
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode plan: %w", domain.ErrValidation, err)
	}
	return &s, nil
}
