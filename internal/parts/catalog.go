package parts

import (
	"bytes"
	"context"
	"encoding/xml"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

var (
	ErrPartsDirNotFound = errors.New("Fritzing parts directory not found")
	ErrUnknownComponent = errors.New("unknown component")
)

type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultDimensions is used when a part has no readable breadboard graphic.
var DefaultDimensions = Dimensions{Width: 72, Height: 93.6}

type Connector struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Type string  `json:"type"`
}

type Component struct {
	ID            int               `json:"id"`
	FritzingID    string            `json:"fritzingId"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Category      string            `json:"category"`
	Tags          []string          `json:"tags"`
	IconURL       string            `json:"iconUrl"`
	BreadboardURL string            `json:"breadboardUrl"`
	Connectors    []Connector       `json:"connectors"`
	Properties    map[string]string `json:"properties"`
	Dimensions    Dimensions        `json:"dimensions"`
}

// Catalog reads Fritzing part descriptors (.fzp) and their graphics from a parts directory laid
// out as the fritzing-parts repository: descriptors anywhere below the root, graphics under
// svg/<bin>/<view>/<fritzingId>.svg.
type Catalog struct {
	dir string
	log logr.Logger
}

func NewCatalog(dir string, log logr.Logger) *Catalog {
	return &Catalog{dir: dir, log: log.WithName("parts")}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// Scan parses every descriptor in lexical path order. Ids are assigned from 1 in that order;
// descriptors that fail to parse are logged and take no id.
func (c *Catalog) Scan(ctx context.Context) ([]Component, error) {
	files, err := c.descriptors(ctx)
	if err != nil {
		return nil, err
	}

	components := make([]Component, 0, len(files))
	for _, file := range files {
		comp, err := c.parse(file)
		if err != nil {
			c.log.Info("failed to parse part descriptor", "path", file, "error", err.Error())
			continue
		}
		comp.ID = len(components) + 1
		comp.IconURL = graphicURL(comp.ID, "icon")
		comp.BreadboardURL = graphicURL(comp.ID, "breadboard")
		components = append(components, comp)
	}
	c.log.V(1).Info("parts scanned", "descriptors", len(files), "components", len(components))
	return components, nil
}

// Lookup returns the component Scan would number id.
func (c *Catalog) Lookup(ctx context.Context, id int) (*Component, error) {
	if id < 1 {
		return nil, ErrUnknownComponent
	}
	components, err := c.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if id > len(components) {
		return nil, ErrUnknownComponent
	}
	return &components[id-1], nil
}

func graphicURL(id int, view string) string {
	return "/api/components/" + strconv.Itoa(id) + "/svg/" + view
}

func (c *Catalog) descriptors(ctx context.Context) ([]string, error) {
	info, err := os.Stat(c.dir)
	if err != nil || !info.IsDir() {
		return nil, ErrPartsDirNotFound
	}

	var files []string
	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.log.Info("skipping unreadable path", "path", path, "error", err.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".fzp") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk parts directory")
	}
	return files, nil
}

func (c *Catalog) parse(file string) (Component, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return Component{}, err
	}
	var root node
	if err := decodeXML(raw, &root); err != nil {
		return Component{}, errors.Wrap(err, "decode descriptor")
	}

	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	comp := Component{
		FritzingID:  stem,
		Title:       stem,
		Description: root.attrOr("description", ""),
		Tags:        []string{},
		Connectors:  []Connector{},
		Properties:  map[string]string{},
		Dimensions:  DefaultDimensions,
	}
	if title, ok := root.attr("title"); ok {
		comp.Title = title
	} else if t := root.find("title"); t != nil && t.Content != "" {
		comp.Title = t.Content
	}
	if _, ok := root.attr("description"); !ok {
		if d := root.find("description"); d != nil {
			comp.Description = d.Content
		}
	}

	properties := root.find("properties")
	if properties != nil {
		for _, prop := range properties.children("property") {
			if name := prop.attrOr("name", ""); name != "" && prop.Content != "" {
				comp.Properties[name] = prop.Content
			}
		}
	}
	comp.Category = c.category(file, properties)

	if tags := root.find("tags"); tags != nil {
		for _, tag := range tags.children("tag") {
			if tag.Content != "" {
				comp.Tags = append(comp.Tags, tag.Content)
			}
		}
	}

	if connectors := root.find("connectors"); connectors != nil {
		for _, conn := range connectors.children("connector") {
			id := conn.attrOr("id", "")
			connector := Connector{
				ID:   id,
				Name: conn.attrOr("name", id),
				Type: conn.attrOr("type", "male"),
			}
			if p := conn.findWhere("p", "layer", "breadboard"); p != nil {
				connector.X = p.float("x")
				connector.Y = p.float("y")
			}
			comp.Connectors = append(comp.Connectors, connector)
		}
	}

	if svg, err := c.readGraphic(stem, "breadboard"); err == nil {
		comp.Dimensions = c.dimensions(svg)
		c.placeConnectors(svg, comp.Connectors)
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.log.Info("could not read breadboard graphic", "fritzingId", stem, "error", err.Error())
	}
	return comp, nil
}

type categoryRule struct {
	category string
	keywords []string
}

// First matching rule wins, so "led" files land in LEDs before Output is considered.
var categoryRules = []categoryRule{
	{"Resistors", []string{"resistor", "resistance"}},
	{"Capacitors", []string{"capacitor", "capacitance"}},
	{"LEDs", []string{"led", "light"}},
	{"Transistors", []string{"transistor", "mosfet", "fet"}},
	{"ICs", []string{"ic", "chip", "logic"}},
	{"Microcontrollers", []string{"arduino", "raspberry", "esp", "microcontroller"}},
	{"Sensors", []string{"sensor", "detect"}},
	{"Input", []string{"button", "switch", "potentiometer", "pot"}},
	{"Output", []string{"display", "lcd", "led", "oled"}},
	{"Connectors", []string{"connector", "header", "pin", "terminal"}},
	{"Power", []string{"power", "battery", "voltage", "regulator"}},
}

func (c *Catalog) category(file string, properties *node) string {
	name := strings.ToLower(filepath.Base(file))
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.category
			}
		}
	}

	if properties != nil {
		for _, prop := range properties.children("property") {
			if prop.attrOr("name", "") == "family" && prop.Content != "" {
				return prop.Content
			}
		}
	}

	rel, err := filepath.Rel(c.dir, file)
	if err != nil {
		rel = file
	}
	rel = filepath.ToSlash(rel)
	switch {
	case strings.Contains(rel, "core"):
		return "Core"
	case strings.Contains(rel, "contrib"):
		return "Contrib"
	case strings.Contains(rel, "user"):
		return "User"
	}
	return "Miscellaneous"
}

// decodeXML is xml.Unmarshal that also accepts documents declaring a non UTF-8 encoding, such as
// ISO-8859-1, in their prolog.
func decodeXML(raw []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

// node is a generic XML element, used for both descriptors and graphics.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (n *node) attrOr(local, fallback string) string {
	if v, ok := n.attr(local); ok {
		return v
	}
	return fallback
}

// float returns the attribute as a number, 0 when absent or malformed.
func (n *node) float(local string) float64 {
	v, ok := n.attr(local)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func (n *node) children(local string) []node {
	var out []node
	for _, child := range n.Nodes {
		if child.XMLName.Local == local {
			out = append(out, child)
		}
	}
	return out
}

// find returns the first descendant named local in document order.
func (n *node) find(local string) *node {
	return n.findWhere(local, "", "")
}

// findWhere is find restricted to elements whose attribute attr equals value. An empty attr
// matches any element.
func (n *node) findWhere(local, attr, value string) *node {
	for i := range n.Nodes {
		child := &n.Nodes[i]
		if child.XMLName.Local == local {
			if attr == "" {
				return child
			}
			if v, ok := child.attr(attr); ok && v == value {
				return child
			}
		}
		if found := child.findWhere(local, attr, value); found != nil {
			return found
		}
	}
	return nil
}

// walk visits n and its descendants in document order.
func (n *node) walk(fn func(*node)) {
	fn(n)
	for i := range n.Nodes {
		n.Nodes[i].walk(fn)
	}
}
