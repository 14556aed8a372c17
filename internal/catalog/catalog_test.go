package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tradepost/internal/game"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	bp, ok := c.Blueprint("smelt_iron")
	if !ok {
		t.Fatalf("smelt_iron missing")
	}
	if !bp.Starter || bp.TimeMin != 30 || len(bp.Inputs) != 2 {
		t.Fatalf("unexpected smelt_iron: %+v", bp)
	}
	m, ok := c.Mission("deep_mine")
	if !ok {
		t.Fatalf("deep_mine missing")
	}
	if m.Risk != game.RiskHigh {
		t.Fatalf("deep_mine risk = %s, want HIGH", m.Risk)
	}
	if it, ok := c.Item("guild_banner"); !ok || it.Tradable {
		t.Fatalf("guild_banner should exist and not be tradable: %+v", it)
	}
	if got := len(c.Items()); got < 10 {
		t.Fatalf("expected at least 10 items, got %d", got)
	}
}

func TestMissionDistanceOptional(t *testing.T) {
	c, err := Parse([]byte(`items: [{id: wood, name: Wood}]
blueprints: []
missions:
  - {id: near, name: Near, risk: LOW, duration_min: 10, base_gold: 1, distance: 0}
  - {id: somewhere, name: Somewhere, risk: LOW, duration_min: 10, base_gold: 1}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	near, _ := c.Mission("near")
	if near.Distance == nil || *near.Distance != 0 {
		t.Fatalf("near distance = %v, want 0", near.Distance)
	}
	somewhere, _ := c.Mission("somewhere")
	if somewhere.Distance != nil {
		t.Fatalf("somewhere distance = %d, want unknown", *somewhere.Distance)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "schema: bad risk",
			doc: `items: [{id: wood, name: Wood}]
blueprints: []
missions: [{id: m, name: M, risk: EXTREME, duration_min: 10, base_gold: 1}]`,
			want: "catalog",
		},
		{
			name: "schema: unknown field",
			doc: `items: [{id: wood, name: Wood, weight: 3}]
blueprints: []
missions: []`,
			want: "catalog",
		},
		{
			name: "schema: zero output",
			doc: `items: [{id: wood, name: Wood}]
blueprints: [{id: b, name: B, output_item: wood, output_qty: 0, inputs: [{item: wood, count: 1}], time_min: 1, xp_reward: 1}]
missions: []`,
			want: "catalog",
		},
		{
			name: "schema: fractional duration",
			doc: `items: [{id: wood, name: Wood}]
blueprints: []
missions: [{id: m, name: M, risk: LOW, duration_min: 2.5, base_gold: 1}]`,
			want: "catalog",
		},
		{
			name: "unknown input item",
			doc: `items: [{id: wood, name: Wood}]
blueprints: [{id: b, name: B, output_item: wood, output_qty: 1, inputs: [{item: stone, count: 1}], time_min: 1, xp_reward: 1}]
missions: []`,
			want: `unknown item "stone"`,
		},
		{
			name: "duplicate item",
			doc: `items: [{id: wood, name: Wood}, {id: wood, name: Wood}]
blueprints: []
missions: []`,
			want: "duplicate item",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	doc := `items: [{id: wood, name: Wood, tradable: true}]
blueprints: []
missions: [{id: walk, name: Walk, risk: low, duration_min: 5, base_gold: 10}]`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("lowercase risk should fail schema validation")
	}

	doc = strings.Replace(doc, "risk: low", "risk: LOW", 1)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.Mission("walk"); !ok {
		t.Fatalf("walk mission missing")
	}
	if _, ok := c.Blueprint("smelt_iron"); ok {
		t.Fatalf("file catalog should not include built-in blueprints")
	}
}
