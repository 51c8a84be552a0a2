package instrument

import (
	"fmt"
	"sort"
	"strings"
)

// ID identifies a tradable instrument inside a Catalog.
type ID string

const (
	BTCUSDT ID = "BTCUSDT"
	ETHUSDT ID = "ETHUSDT"
	SOLUSDT ID = "SOLUSDT"
)

// Info carries the per-instrument metadata the stream needs.
type Info struct {
	// WireName is used to build subscribe/unsubscribe payloads.
	WireName string
	// DisplayName is shown to the user.
	DisplayName string
	// MatchKey correlates an inbound tick with the instrument that requested it.
	MatchKey string
}

// Entry pairs an ID with its Info when building a catalog.
type Entry struct {
	ID   ID
	Info Info
}

// Catalog is an immutable instrument lookup table. The zero value is empty.
type Catalog struct {
	entries map[ID]Info
	byKey   map[string]ID
}

// NewCatalog validates and copies entries into a new Catalog.
func NewCatalog(entries ...Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog needs at least one instrument")
	}
	c := &Catalog{
		entries: make(map[ID]Info, len(entries)),
		byKey:   make(map[string]ID, len(entries)),
	}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("instrument id cannot be empty")
		}
		if _, dup := c.entries[e.ID]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", e.ID)
		}
		if e.Info.WireName == "" {
			return nil, fmt.Errorf("instrument %s: wire name cannot be empty", e.ID)
		}
		if e.Info.MatchKey == "" {
			return nil, fmt.Errorf("instrument %s: match key cannot be empty", e.ID)
		}
		if other, dup := c.byKey[e.Info.MatchKey]; dup {
			return nil, fmt.Errorf("instrument %s: match key %q already used by %s", e.ID, e.Info.MatchKey, other)
		}
		info := e.Info
		if info.DisplayName == "" {
			info.DisplayName = string(e.ID)
		}
		c.entries[e.ID] = info
		c.byKey[info.MatchKey] = e.ID
	}
	return c, nil
}

// Lookup returns the metadata for id.
func (c *Catalog) Lookup(id ID) (Info, bool) {
	info, ok := c.entries[id]
	return info, ok
}

// Contains reports whether id is part of the catalog.
func (c *Catalog) Contains(id ID) bool {
	_, ok := c.entries[id]
	return ok
}

// ByMatchKey returns the instrument whose match key equals key.
func (c *Catalog) ByMatchKey(key string) (ID, bool) {
	id, ok := c.byKey[key]
	return id, ok
}

// IDs returns every instrument id in sorted order.
func (c *Catalog) IDs() []ID {
	ids := make([]ID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve maps free-form user input (an id, a display name or a base asset
// such as "eth") to an instrument id.
func (c *Catalog) Resolve(text string) (ID, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for id, info := range c.entries {
		if normalize(string(id)) == norm || normalize(info.DisplayName) == norm {
			return id, true
		}
	}
	for _, id := range c.IDs() {
		if strings.HasPrefix(normalize(string(id)), norm) {
			return id, true
		}
	}
	return "", false
}

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

// HTXDefaults returns the linear-swap detail channels of the HTX feed.
func HTXDefaults() []Entry {
	return []Entry{
		htxEntry(BTCUSDT, "BTC"),
		htxEntry(ETHUSDT, "ETH"),
		htxEntry(SOLUSDT, "SOL"),
	}
}

func htxEntry(id ID, base string) Entry {
	channel := fmt.Sprintf("market.%s-USDT.detail", base)
	return Entry{ID: id, Info: Info{WireName: channel, DisplayName: base + "/USDT", MatchKey: channel}}
}

// BinanceDefaults returns the futures mark-price streams of the Binance feed.
func BinanceDefaults() []Entry {
	return []Entry{
		binanceEntry(BTCUSDT, "BTC"),
		binanceEntry(ETHUSDT, "ETH"),
		binanceEntry(SOLUSDT, "SOL"),
	}
}

func binanceEntry(id ID, base string) Entry {
	symbol := string(id)
	return Entry{ID: id, Info: Info{
		WireName:    strings.ToLower(symbol) + "@markPrice",
		DisplayName: base + "/USDT",
		MatchKey:    symbol,
	}}
}
