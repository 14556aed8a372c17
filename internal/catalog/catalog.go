// Package catalog loads item, blueprint and mission definitions from YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"tradepost/internal/game"
)

//go:embed catalog.yaml
var defaultCatalog []byte

//go:embed catalog.schema.json
var schemaJSON []byte

const schemaURL = "catalog.schema.json"

type file struct {
	Items      []game.ItemDef    `yaml:"items"`
	Blueprints []game.Blueprint  `yaml:"blueprints"`
	Missions   []game.MissionDef `yaml:"missions"`
}

type Catalog struct {
	items      map[string]game.ItemDef
	blueprints map[string]game.Blueprint
	missions   map[string]game.MissionDef
}

var _ game.Catalog = (*Catalog)(nil)

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return build(f)
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
}

// validateSchema round-trips the YAML document through JSON so the
// validator sees the same value shapes a JSON decoder would produce.
func validateSchema(raw []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}

func build(f file) (*Catalog, error) {
	c := &Catalog{
		items:      make(map[string]game.ItemDef, len(f.Items)),
		blueprints: make(map[string]game.Blueprint, len(f.Blueprints)),
		missions:   make(map[string]game.MissionDef, len(f.Missions)),
	}
	for _, it := range f.Items {
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item %q", it.ID)
		}
		c.items[it.ID] = it
	}
	for _, bp := range f.Blueprints {
		if _, dup := c.blueprints[bp.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate blueprint %q", bp.ID)
		}
		if err := c.requireItem(bp.OutputItem); err != nil {
			return nil, fmt.Errorf("blueprint %s: %w", bp.ID, err)
		}
		for _, in := range bp.Inputs {
			if err := c.requireItem(in.Item); err != nil {
				return nil, fmt.Errorf("blueprint %s: %w", bp.ID, err)
			}
		}
		if bp.RequiredLevel < 1 {
			bp.RequiredLevel = 1
		}
		c.blueprints[bp.ID] = bp
	}
	for _, m := range f.Missions {
		if _, dup := c.missions[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate mission %q", m.ID)
		}
		risk, err := game.ParseRisk(string(m.Risk))
		if err != nil {
			return nil, fmt.Errorf("mission %s: %w", m.ID, err)
		}
		m.Risk = risk
		for _, it := range m.Items {
			if err := c.requireItem(it.Item); err != nil {
				return nil, fmt.Errorf("mission %s: %w", m.ID, err)
			}
		}
		c.missions[m.ID] = m
	}
	return c, nil
}

func (c *Catalog) requireItem(id string) error {
	if _, ok := c.items[id]; !ok {
		return fmt.Errorf("unknown item %q", id)
	}
	return nil
}

func (c *Catalog) Item(id string) (game.ItemDef, bool) {
	it, ok := c.items[id]
	return it, ok
}

func (c *Catalog) Blueprint(id string) (game.Blueprint, bool) {
	bp, ok := c.blueprints[id]
	return bp, ok
}

func (c *Catalog) Mission(id string) (game.MissionDef, bool) {
	m, ok := c.missions[id]
	return m, ok
}

func (c *Catalog) Items() []game.ItemDef {
	out := make([]game.ItemDef, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Blueprints() []game.Blueprint {
	out := make([]game.Blueprint, 0, len(c.blueprints))
	for _, bp := range c.blueprints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Missions() []game.MissionDef {
	out := make([]game.MissionDef, 0, len(c.missions))
	for _, m := range c.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
