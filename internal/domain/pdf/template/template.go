// Package template matches PDF statement layouts against a registry of
// bank-specific layout descriptors loaded from YAML. Matching is two-stage: an
// Aho-Corasick scan over the document text prefilters candidates by keyword,
// then each candidate is scored against the extracted layout features. The
// registry is an immutable snapshot; reload by building a new one.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/statement-ingest/internal/domain/pdf/feature"
)

// DefaultAcceptThreshold applies when a descriptor does not set its own.
const DefaultAcceptThreshold = 0.7

// ScoreWeights splits a descriptor's score across its components. The zero
// value means the package defaults; explicit weights must sum to 1.
type ScoreWeights struct {
	Keywords float64 `yaml:"keywords"`
	Header   float64 `yaml:"header"`
	Columns  float64 `yaml:"columns"`
	Footer   float64 `yaml:"footer"`
}

// Default split: keywords dominate because they are the cheapest to author
// and the hardest to collide on; geometry refines.
var defaultScoreWeights = ScoreWeights{
	Keywords: 0.4,
	Header:   0.3,
	Columns:  0.2,
	Footer:   0.1,
}

// GeometryBands pins the header/footer band fractions (of page height) a
// layout was authored against. Zero fields are not scored.
type GeometryBands struct {
	Header float64 `yaml:"header"`
	Footer float64 `yaml:"footer"`
}

// columnTol is how far (points) a detected column may sit from the
// descriptor's x-range and still count as aligned.
const columnTol = 6.0

// bandTol is the band-fraction deviation at which band agreement reaches
// zero.
const bandTol = 0.05

// ColumnSpec fixes where a named column lives on the page.
type ColumnSpec struct {
	Role string  `yaml:"role"`
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
}

// Descriptor is one bank layout, authored as a YAML file.
type Descriptor struct {
	Name            string        `yaml:"name"`
	Version         int           `yaml:"version"`
	Keywords        []string      `yaml:"keywords"`
	HeaderMarkers   []string      `yaml:"header_markers"`
	FooterMarkers   []string      `yaml:"footer_markers"`
	Columns         []ColumnSpec  `yaml:"columns"`
	Bands           GeometryBands `yaml:"geometry_bands"`
	Weights         ScoreWeights  `yaml:"score_weights"`
	AcceptThreshold float64       `yaml:"accept_threshold"`
	// Parsing dialect the layout is known to use.
	DayFirstDates bool   `yaml:"day_first_dates"`
	DecimalComma  bool   `yaml:"decimal_comma"`
	Currency      string `yaml:"currency"`
}

func (d *Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("template without a name")
	}
	if d.Version <= 0 {
		return fmt.Errorf("template %s needs a positive version", d.Name)
	}
	if len(d.Keywords) == 0 {
		return fmt.Errorf("template %s needs at least one keyword", d.Name)
	}
	if d.AcceptThreshold < 0 || d.AcceptThreshold > 1 {
		return fmt.Errorf("template %s accept_threshold must be in [0,1]", d.Name)
	}
	if w := d.Weights; w != (ScoreWeights{}) {
		for _, v := range []float64{w.Keywords, w.Header, w.Columns, w.Footer} {
			if v < 0 || v > 1 {
				return fmt.Errorf("template %s score_weights entries must be in [0,1]", d.Name)
			}
		}
		if sum := w.Keywords + w.Header + w.Columns + w.Footer; sum < 1-1e-6 || sum > 1+1e-6 {
			return fmt.Errorf("template %s score_weights must sum to 1, got %v", d.Name, sum)
		}
	}
	for _, b := range []float64{d.Bands.Header, d.Bands.Footer} {
		if b < 0 || b >= 0.5 {
			return fmt.Errorf("template %s geometry_bands fractions must be in [0,0.5)", d.Name)
		}
	}
	return nil
}

func (d *Descriptor) weights() ScoreWeights {
	if d.Weights == (ScoreWeights{}) {
		return defaultScoreWeights
	}
	return d.Weights
}

func (d *Descriptor) threshold() float64 {
	if d.AcceptThreshold > 0 {
		return d.AcceptThreshold
	}
	return DefaultAcceptThreshold
}

// Column returns the column definition for a role, if the descriptor defines it.
func (d *Descriptor) Column(role string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Role == role {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Registry is an immutable snapshot of loaded descriptors plus the compiled
// keyword automaton.
type Registry struct {
	templates []*Descriptor
	matcher   *ahocorasick.Matcher
	// owners[i] lists template indices that declared keyword i.
	owners [][]int
}

// MatchResult reports the best-scoring candidate. Accepted is false when the
// score stays under the template's own threshold; callers then fall back to
// the generic table path.
type MatchResult struct {
	Template *Descriptor
	Score    float64
	Accepted bool
}

// Load reads every *.yaml/*.yml file in dir, one descriptor per file, in
// lexical filename order. That order is the final tie-breaker, so it is part
// of the registry's observable behavior.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	descs := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		var d Descriptor
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		descs = append(descs, &d)
	}

	return New(descs)
}

// New builds a registry from in-memory descriptors, keeping their order.
func New(descs []*Descriptor) (*Registry, error) {
	var dict []string
	var owners [][]int
	for i, d := range descs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		for _, kw := range d.Keywords {
			dict = append(dict, strings.ToLower(kw))
			owners = append(owners, []int{i})
		}
	}

	r := &Registry{templates: descs, owners: owners}
	if len(dict) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return r, nil
}

// Len reports how many templates the snapshot holds.
func (r *Registry) Len() int { return len(r.templates) }

// Match scores the keyword-prefiltered candidates against the document's
// features and returns the best. A nil Template means no candidate survived
// the prefilter.
func (r *Registry) Match(f *feature.Features) MatchResult {
	if r.matcher == nil || f == nil {
		return MatchResult{}
	}

	hits := r.matcher.Match([]byte(f.Text))
	candidates := map[int]bool{}
	for _, h := range hits {
		for _, owner := range r.owners[h] {
			candidates[owner] = true
		}
	}
	if len(candidates) == 0 {
		return MatchResult{}
	}

	best := MatchResult{}
	bestIdx := -1
	for i, d := range r.templates {
		if !candidates[i] {
			continue
		}
		score := r.score(d, f)
		if better(score, d, i, best, bestIdx) {
			best = MatchResult{Template: d, Score: score}
			bestIdx = i
		}
	}
	best.Accepted = best.Template != nil && best.Score >= best.Template.threshold()
	return best
}

// score is a weighted fraction-of-markers-found, normalized over the
// components the descriptor actually defines, using the descriptor's own
// weight split.
func (r *Registry) score(d *Descriptor, f *feature.Features) float64 {
	w := d.weights()
	total, weightSum := 0.0, 0.0

	total += w.Keywords * fractionFound(d.Keywords, f.Text)
	weightSum += w.Keywords

	if len(d.HeaderMarkers) > 0 {
		header := strings.Join(f.HeaderTokens, " ")
		total += w.Header * fractionFound(d.HeaderMarkers, header)
		weightSum += w.Header
	}
	if len(d.FooterMarkers) > 0 {
		footer := strings.Join(f.FooterTokens, " ")
		total += w.Footer * fractionFound(d.FooterMarkers, footer)
		weightSum += w.Footer
	}
	if len(d.Columns) > 0 || d.Bands != (GeometryBands{}) {
		total += w.Columns * geometryScore(d, f)
		weightSum += w.Columns
	}

	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// geometryScore compares observed against expected geometry: the fraction of
// declared columns that align, averaged with how closely the observed
// header/footer band boundaries sit to the declared ones.
func geometryScore(d *Descriptor, f *feature.Features) float64 {
	parts, sum := 0, 0.0

	if len(d.Columns) > 0 {
		aligned := 0
		for _, c := range d.Columns {
			if columnAligned(c, f) {
				aligned++
			}
		}
		sum += float64(aligned) / float64(len(d.Columns))
		parts++
	}
	if d.Bands.Header > 0 {
		sum += bandAgreement(f.HeaderBand, d.Bands.Header)
		parts++
	}
	if d.Bands.Footer > 0 {
		sum += bandAgreement(f.FooterBand, d.Bands.Footer)
		parts++
	}

	if parts == 0 {
		return 0
	}
	return sum / float64(parts)
}

// bandAgreement decays linearly from 1 at an exact match to 0 at bandTol
// deviation.
func bandAgreement(observed, expected float64) float64 {
	diff := observed - expected
	if diff < 0 {
		diff = -diff
	}
	if diff >= bandTol {
		return 0
	}
	return 1 - diff/bandTol
}

func columnAligned(c ColumnSpec, f *feature.Features) bool {
	for _, x := range f.ColumnXs {
		if x >= c.XMin-columnTol && x <= c.XMax+columnTol {
			return true
		}
	}
	return false
}

func fractionFound(markers []string, haystack string) float64 {
	if len(markers) == 0 {
		return 0
	}
	found := 0
	for _, m := range markers {
		if strings.Contains(haystack, strings.ToLower(m)) {
			found++
		}
	}
	return float64(found) / float64(len(markers))
}

// better implements the deterministic ordering: score, then newer version,
// then registration order.
func better(score float64, d *Descriptor, idx int, cur MatchResult, curIdx int) bool {
	if cur.Template == nil {
		return true
	}
	if score != cur.Score {
		return score > cur.Score
	}
	if d.Version != cur.Template.Version {
		return d.Version > cur.Template.Version
	}
	return idx < curIdx
}
