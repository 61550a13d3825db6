package parts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

// Bins searched for graphics, in order.
var graphicBins = []string{"core", "contrib", "user", "obsolete"}

const pointsPerInch = 72

var lengthPattern = regexp.MustCompile(`^([\d.]+)([a-z]*)`)

// readGraphic returns the first svg/<bin>/<view>/<fritzingId>.svg that exists.
func (c *Catalog) readGraphic(fritzingID, view string) ([]byte, error) {
	if view == "" || view == "." || strings.Contains(view, "..") || strings.ContainsAny(view, `/\`) {
		return nil, errors.Wrapf(fs.ErrNotExist, "invalid view %q", view)
	}
	for _, bin := range graphicBins {
		path := filepath.Join(c.dir, "svg", bin, view, fritzingID+".svg")
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return nil, errors.Wrapf(fs.ErrNotExist, "no %s graphic for %s", view, fritzingID)
}

// dimensions takes the size from the viewBox, else from width/height (inches converted at 72 per
// inch), else DefaultDimensions.
func (c *Catalog) dimensions(svg []byte) Dimensions {
	var root node
	if err := decodeXML(svg, &root); err != nil {
		c.log.Info("error getting SVG dimensions", "error", err.Error())
		return DefaultDimensions
	}

	if viewBox, ok := root.attr("viewBox"); ok && viewBox != "" {
		fields := strings.Fields(strings.ReplaceAll(viewBox, ",", " "))
		if len(fields) >= 4 {
			w, errW := strconv.ParseFloat(fields[2], 64)
			h, errH := strconv.ParseFloat(fields[3], 64)
			if errW != nil || errH != nil {
				return DefaultDimensions
			}
			return Dimensions{Width: w, Height: h}
		}
	}

	w, okW := length(root.attrOr("width", ""))
	h, okH := length(root.attrOr("height", ""))
	if okW && okH {
		return Dimensions{Width: w, Height: h}
	}
	return DefaultDimensions
}

func length(s string) (float64, bool) {
	m := lengthPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "in" {
		v *= pointsPerInch
	}
	return v, true
}

// placeConnectors refines connector positions from graphic elements whose id names the connector.
// When several elements match, the last one in document order wins.
func (c *Catalog) placeConnectors(svg []byte, connectors []Connector) {
	if len(connectors) == 0 {
		return
	}
	var root node
	if err := decodeXML(svg, &root); err != nil {
		c.log.Info("error parsing connector positions", "error", err.Error())
		return
	}

	root.walk(func(n *node) {
		id, ok := n.attr("id")
		if !ok || id == "" {
			return
		}
		for i := range connectors {
			if !matchesConnector(id, connectors[i].ID) {
				continue
			}
			if x, y, ok := position(n); ok {
				connectors[i].X, connectors[i].Y = x, y
			}
		}
	})
}

// matchesConnector reports whether an element id refers to the connector: an exact match, or an
// id such as "connector0pin" that contains the connector id followed by something other than a
// digit and mentions a pin or pad.
func matchesConnector(elementID, connectorID string) bool {
	if connectorID == "" {
		return false
	}
	if elementID == connectorID {
		return true
	}
	if !strings.Contains(elementID, "pin") && !strings.Contains(elementID, "pad") {
		return false
	}
	for rest := elementID; ; {
		i := strings.Index(rest, connectorID)
		if i < 0 {
			return false
		}
		next := i + len(connectorID)
		if next == len(rest) || !isDigit(rest[next]) {
			return true
		}
		rest = rest[i+1:]
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func position(n *node) (float64, float64, bool) {
	switch n.XMLName.Local {
	case "circle":
		return n.float("cx"), n.float("cy"), true
	case "rect":
		return n.float("x") + n.float("width")/2, n.float("y") + n.float("height")/2, true
	case "path":
		return pathStart(n.attrOr("d", ""))
	case "line":
		return n.float("x1"), n.float("y1"), true
	}
	return n.float("x"), n.float("y"), true
}

// pathStart returns the coordinates of a leading moveto command.
func pathStart(d string) (float64, float64, bool) {
	d = strings.TrimSpace(d)
	if !strings.HasPrefix(d, "M") {
		return 0, 0, false
	}
	fields := strings.FieldsFunc(d[1:], func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) < 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(fields[0], 64)
	y, errY := strconv.ParseFloat(fields[1], 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}

// Graphic returns the SVG for one view of a component. It never fails: unknown components, missing
// assets and read errors yield a placeholder graphic.
func (c *Catalog) Graphic(ctx context.Context, id int, view string) []byte {
	comp, err := c.Lookup(ctx, id)
	if errors.Is(err, ErrUnknownComponent) {
		return placeholder(64, 64, 35, "C"+strconv.Itoa(id))
	}
	if err != nil {
		c.log.Error(err, "error fetching component SVG", "id", id, "view", view)
		return placeholder(64, 64, 35, "Error")
	}

	svg, err := c.readGraphic(comp.FritzingID, view)
	if errors.Is(err, fs.ErrNotExist) {
		d := comp.Dimensions
		return placeholder(d.Width, d.Height, d.Height/2, comp.Title)
	}
	if err != nil {
		c.log.Error(err, "error fetching component SVG", "id", id, "view", view)
		return placeholder(64, 64, 35, "Error")
	}

	out, err := normalize(svg, c.dimensions(svg))
	if err != nil {
		c.log.Info("error processing SVG dimensions", "id", id, "view", view, "error", err.Error())
		return svg
	}
	return out
}

func placeholder(width, height, textY float64, label string) []byte {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(label))
	w, h := num(width), num(height)
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg width="%s" height="%s" xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s">
    <rect x="4" y="4" width="%s" height="%s" fill="#666" stroke="#333" stroke-width="2" rx="4"/>
    <text x="%s" y="%s" text-anchor="middle" fill="white" font-size="10">%s</text>
</svg>`, w, h, w, h, num(width-8), num(height-8), num(width/2), num(textY), escaped.String()))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalize rewrites the root element so width and height carry d and a viewBox is present. The
// rest of the document is passed through untouched, in its original encoding.
func normalize(svg []byte, d Dimensions) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(svg))
	dec.CharsetReader = charset.NewReaderLabel
	for {
		start := dec.InputOffset()
		tok, err := dec.RawToken()
		if err != nil {
			return nil, errors.Wrap(err, "find root element")
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		end := dec.InputOffset()
		if el.Name.Local != "svg" {
			return nil, errors.Errorf("root element is %q, not svg", el.Name.Local)
		}
		// Offsets count decoded bytes; they match the input only while the prolog is ASCII.
		if end > int64(len(svg)) || !bytes.HasPrefix(svg[start:], []byte("<"+qualified(el.Name))) || svg[end-1] != '>' {
			return nil, errors.New("root element offsets do not match the raw document")
		}
		selfClosing := bytes.HasSuffix(bytes.TrimRight(svg[start:end-1], " \t\r\n"), []byte("/"))

		el.Attr = setAttr(el.Attr, "width", num(d.Width))
		el.Attr = setAttr(el.Attr, "height", num(d.Height))
		if !hasAttr(el.Attr, "viewBox") {
			el.Attr = append(el.Attr, xml.Attr{
				Name:  xml.Name{Local: "viewBox"},
				Value: "0 0 " + num(d.Width) + " " + num(d.Height),
			})
		}

		var out bytes.Buffer
		out.Write(svg[:start])
		writeStart(&out, el, selfClosing)
		out.Write(svg[end:])
		return out.Bytes(), nil
	}
}

func setAttr(attrs []xml.Attr, local, value string) []xml.Attr {
	for i := range attrs {
		if attrs[i].Name.Space == "" && attrs[i].Name.Local == local {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

func hasAttr(attrs []xml.Attr, local string) bool {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return true
		}
	}
	return false
}

// writeStart serializes a start element obtained from RawToken, where Name.Space holds the
// literal prefix.
func writeStart(buf *bytes.Buffer, el xml.StartElement, selfClosing bool) {
	buf.WriteByte('<')
	buf.WriteString(qualified(el.Name))
	for _, a := range el.Attr {
		buf.WriteByte(' ')
		buf.WriteString(qualified(a.Name))
		buf.WriteString(`="`)
		_ = xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	if selfClosing {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
