package dataset

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/gridmap/internal/grid"
)

// ErrUnknownPeriod is returned for a period name the catalog does not list.
var ErrUnknownPeriod = eris.New("dataset: unknown period")

// Period is one named dataset file.
type Period struct {
	Name    string `yaml:"name" json:"name"`
	Path    string `yaml:"path" json:"path"`
	Charset string `yaml:"charset,omitempty" json:"charset,omitempty"`
	Sheet   string `yaml:"sheet,omitempty" json:"sheet,omitempty"`
}

// Manifest is the YAML period listing. Charset applies to periods that do
// not name their own.
type Manifest struct {
	Default string   `yaml:"default"`
	Charset string   `yaml:"charset,omitempty"`
	Periods []Period `yaml:"periods"`
}

// Catalog resolves period names to dataset files.
type Catalog struct {
	dir     string
	def     string
	charset string
	periods []Period
	byName  map[string]int
}

// LoadManifest reads a manifest. Relative period paths resolve against the
// manifest's directory.
func LoadManifest(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(ErrMalformedInput, "dataset: parse manifest %s: %v", path, err)
	}
	return NewCatalog(filepath.Dir(path), m)
}

// NewCatalog validates a manifest. The default period falls back to the
// first listed one.
func NewCatalog(dir string, m Manifest) (*Catalog, error) {
	if len(m.Periods) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "dataset: manifest lists no periods")
	}

	c := &Catalog{dir: dir, charset: m.Charset, byName: make(map[string]int, len(m.Periods))}
	for i, p := range m.Periods {
		if p.Name == "" || p.Path == "" {
			return nil, eris.Wrapf(ErrMalformedInput, "dataset: period %d needs a name and a path", i)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, eris.Wrapf(ErrMalformedInput, "dataset: duplicate period %q", p.Name)
		}
		if !filepath.IsAbs(p.Path) && dir != "" {
			p.Path = filepath.Join(dir, p.Path)
		}
		c.byName[p.Name] = len(c.periods)
		c.periods = append(c.periods, p)
	}

	c.def = m.Default
	if c.def == "" {
		c.def = c.periods[0].Name
	}
	if _, ok := c.byName[c.def]; !ok {
		return nil, eris.Wrapf(ErrUnknownPeriod, "dataset: default period %q", c.def)
	}
	return c, nil
}

// Periods returns the periods in manifest order.
func (c *Catalog) Periods() []Period {
	return append([]Period(nil), c.periods...)
}

// Default returns the default period name.
func (c *Catalog) Default() string {
	return c.def
}

// SetDefaultCharset sets the charset for periods without one, unless the
// manifest already names a default.
func (c *Catalog) SetDefaultCharset(cs string) {
	if c.charset == "" {
		c.charset = cs
	}
}

// Period looks up a period by name.
func (c *Catalog) Period(name string) (Period, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Period{}, false
	}
	return c.periods[i], true
}

// Load reads a period and builds its classification table.
func (c *Catalog) Load(ctx context.Context, idx grid.Index, name string) (*grid.Table, Stats, error) {
	p, ok := c.Period(name)
	if !ok {
		return nil, Stats{}, eris.Wrapf(ErrUnknownPeriod, "dataset: period %q", name)
	}

	charset := p.Charset
	if charset == "" {
		charset = c.charset
	}
	records, stats, err := ReadFile(ctx, p.Path, Options{Charset: charset, Sheet: p.Sheet})
	if err != nil {
		return nil, stats, eris.Wrapf(err, "dataset: load period %q", name)
	}

	t := grid.Build(idx, records)
	zap.L().Info("dataset loaded",
		zap.String("component", "dataset"),
		zap.String("period", name),
		zap.Int("records", stats.Records),
		zap.Int("cells", t.Len()),
		zap.Int("duplicates", t.Duplicates()),
	)
	return t, stats, nil
}
