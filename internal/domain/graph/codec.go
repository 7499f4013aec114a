package graph

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// Decode unmarshals a JSON snapshot, filling absent collections, and checks
// its invariants.
func Decode(data []byte) (*Graph, error) {
	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("%w: decode graph: %w", domain.ErrValidation, err)
	}
	g.ensureMaps()
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) ensureMaps() {
	if g.Phases == nil {
		g.Phases = make(map[string]*Phase)
	}
	if g.Channels == nil {
		g.Channels = make(map[string]*Channel)
	}
	if g.Campaigns == nil {
		g.Campaigns = make(map[string]*Campaign)
	}
	if g.Posts == nil {
		g.Posts = make(map[string]*Post)
	}
	if g.Variants == nil {
		g.Variants = make(map[string]*Variant)
	}
	if g.Edges == nil {
		g.Edges = make(map[string][]string)
	}
}
