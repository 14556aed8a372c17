package dbtest

import (
	"strings"
	"testing"
)

func TestReplaceDBInDSN(t *testing.T) {
	out, err := ReplaceDBInDSN("postgres://u:p@localhost:5432/postgres?sslmode=disable", "tradepost_x")
	if err != nil {
		t.Fatal(err)
	}
	if out != "postgres://u:p@localhost:5432/tradepost_x?sslmode=disable" {
		t.Fatalf("dsn = %s", out)
	}
}

func TestSanitizeForPgIdent(t *testing.T) {
	got := sanitizeForPgIdent("TestPurchase/Race-Two")
	if got != "testpurchase_race_two" {
		t.Fatalf("got %q", got)
	}
	long := sanitizeForPgIdent(strings.Repeat("a", 100))
	if len(long) != 63 {
		t.Fatalf("len = %d, want 63", len(long))
	}
}

func TestUniqueDBNameDiffers(t *testing.T) {
	a := uniqueDBName("tp", t.Name())
	b := uniqueDBName("tp", t.Name())
	if a == b {
		t.Fatalf("names collide: %s", a)
	}
	if !strings.HasPrefix(a, "tp_") {
		t.Fatalf("prefix missing: %s", a)
	}
}
