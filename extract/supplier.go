package extract

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// SupplierPattern records what extraction history has taught us about one
// supplier's invoice layout.
type SupplierPattern struct {
	Supplier      string    `json:"supplier"`
	Extractions   int       `json:"extractions"`
	PreferredPass string    `json:"preferred_pass"`
	AvgConfidence float64   `json:"avg_confidence"`
	AvgItemCount  float64   `json:"avg_item_count"`
	ColumnCount   int       `json:"column_count,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// SupplierPatterns is an in-memory learner keyed by normalized supplier
// name. Safe for concurrent use. Nothing persists unless the caller
// exports explicitly.
type SupplierPatterns struct {
	mu       sync.Mutex
	patterns map[string]*SupplierPattern
}

func NewSupplierPatterns() *SupplierPatterns {
	return &SupplierPatterns{patterns: make(map[string]*SupplierPattern)}
}

// NormalizeSupplierKey folds a supplier display name to a stable map key:
// lowercase, trimmed, legal suffixes dropped, whitespace collapsed.
func NormalizeSupplierKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range []string{" ltd.", " ltd", " limited", " plc", " llp", " inc.", " inc", " co."} {
		s = strings.TrimSuffix(s, suffix)
	}
	return strings.Join(strings.Fields(s), " ")
}

// Lookup returns a copy of the learned pattern for a supplier, if any.
func (sp *SupplierPatterns) Lookup(supplier string) (SupplierPattern, bool) {
	key := NormalizeSupplierKey(supplier)
	if key == "" {
		return SupplierPattern{}, false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	p, ok := sp.patterns[key]
	if !ok {
		return SupplierPattern{}, false
	}
	return *p, true
}

// UpdateFrom folds one extraction result into the supplier's history.
// Results with no supplier hint are ignored.
func (sp *SupplierPatterns) UpdateFrom(res *Result, pass strictness) {
	if res == nil {
		return
	}
	key := NormalizeSupplierKey(res.SupplierHint)
	if key == "" {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	p, ok := sp.patterns[key]
	if !ok {
		p = &SupplierPattern{Supplier: key}
		sp.patterns[key] = p
	}
	n := float64(p.Extractions)
	p.AvgConfidence = (p.AvgConfidence*n + res.OverallConfidence) / (n + 1)
	p.AvgItemCount = (p.AvgItemCount*n + float64(res.ItemCount())) / (n + 1)
	p.Extractions++
	p.PreferredPass = pass.String()
	if res.ColumnStructure != nil {
		p.ColumnCount = res.ColumnStructure.Columns()
	}
	p.LastSeen = time.Now().UTC()
}

// RecommendedPass returns the strictness an engine should start at for a
// supplier. Suppliers whose invoices have repeatedly needed the lenient
// pass skip straight to it; everyone else starts strict.
func (sp *SupplierPatterns) RecommendedPass(supplier string) strictness {
	p, ok := sp.Lookup(supplier)
	if !ok || p.Extractions < 3 {
		return passStrict
	}
	if p.PreferredPass == passLenient.String() {
		return passLenient
	}
	return passStrict
}

// Export serializes the learned patterns to JSON.
func (sp *SupplierPatterns) Export() ([]byte, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return json.MarshalIndent(sp.patterns, "", "  ")
}

// Import merges previously exported patterns into the learner. Existing
// entries with more extractions than the imported ones are kept.
func (sp *SupplierPatterns) Import(data []byte) error {
	var in map[string]*SupplierPattern
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for key, p := range in {
		if cur, ok := sp.patterns[key]; ok && cur.Extractions >= p.Extractions {
			continue
		}
		sp.patterns[key] = p
	}
	return nil
}

// DecodePatterns parses an exported patterns document without loading it
// into a learner.
func DecodePatterns(data []byte) (map[string]*SupplierPattern, error) {
	var out map[string]*SupplierPattern
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports how many suppliers the learner has seen.
func (sp *SupplierPatterns) Len() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.patterns)
}
