package instrument

import "testing"

func TestNewCatalogRejectsInvalidEntries(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"empty id", []Entry{{Info: Info{WireName: "w", MatchKey: "k"}}}},
		{"no wire name", []Entry{{ID: BTCUSDT, Info: Info{MatchKey: "k"}}}},
		{"no match key", []Entry{{ID: BTCUSDT, Info: Info{WireName: "w"}}}},
		{"duplicate id", []Entry{
			{ID: BTCUSDT, Info: Info{WireName: "a", MatchKey: "a"}},
			{ID: BTCUSDT, Info: Info{WireName: "b", MatchKey: "b"}},
		}},
		{"duplicate match key", []Entry{
			{ID: BTCUSDT, Info: Info{WireName: "a", MatchKey: "k"}},
			{ID: ETHUSDT, Info: Info{WireName: "b", MatchKey: "k"}},
		}},
	}
	for _, c := range cases {
		if _, err := NewCatalog(c.entries...); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestCatalogLookup(t *testing.T) {
	cat, err := NewCatalog(HTXDefaults()...)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	info, ok := cat.Lookup(ETHUSDT)
	if !ok {
		t.Fatalf("ETHUSDT missing")
	}
	if info.WireName != "market.ETH-USDT.detail" || info.DisplayName != "ETH/USDT" {
		t.Errorf("unexpected info: %+v", info)
	}
	if id, ok := cat.ByMatchKey("market.SOL-USDT.detail"); !ok || id != SOLUSDT {
		t.Errorf("ByMatchKey = %s, %v", id, ok)
	}
	if cat.Contains("DOGEUSDT") {
		t.Errorf("unexpected instrument DOGEUSDT")
	}

	ids := cat.IDs()
	if len(ids) != 3 || ids[0] != BTCUSDT || ids[2] != SOLUSDT {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestCatalogCopiesEntries(t *testing.T) {
	entries := BinanceDefaults()
	cat, err := NewCatalog(entries...)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	entries[0].Info.WireName = "mutated"

	info, _ := cat.Lookup(BTCUSDT)
	if info.WireName != "btcusdt@markPrice" {
		t.Errorf("catalog shares caller memory: %s", info.WireName)
	}
	if info.MatchKey != "BTCUSDT" {
		t.Errorf("unexpected match key: %s", info.MatchKey)
	}
}

func TestCatalogResolve(t *testing.T) {
	cat, err := NewCatalog(HTXDefaults()...)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	tests := []struct {
		in   string
		want ID
		ok   bool
	}{
		{"BTCUSDT", BTCUSDT, true},
		{"eth", ETHUSDT, true},
		{"SOL/USDT", SOLUSDT, true},
		{" btc-usdt ", BTCUSDT, true},
		{"doge", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := cat.Resolve(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Resolve(%q) = %s,%v want %s,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
