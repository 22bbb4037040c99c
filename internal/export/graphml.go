package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/graph"
	"github.com/ppiankov/flowtrace/internal/object"
)

const graphmlNS = "http://graphml.graphdrawing.org/xmlns"

// Attribute keys, stable across writer and reader. The GraphML "key"
// declarations map short ids to these names; the reader resolves data
// entries through the declarations, so key id assignment is free to
// change without breaking the round trip.
var nodeKeys = []string{
	"kind", "label", "sourceLocation", "qual", "type", "summary",
	"external", "seq", "start_seq", "end_seq", "owner_slot",
	"owner_gen", "producer",
}

var edgeKeys = []string{"kind", "op", "name", "seq"}

var graphKeys = []string{"script", "root"}

type xmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type xmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []xmlData `xml:"data"`
}

type xmlEdge struct {
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []xmlData `xml:"data"`
}

type xmlGraph struct {
	ID          string    `xml:"id,attr"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Data        []xmlData `xml:"data"`
	Nodes       []xmlNode `xml:"node"`
	Edges       []xmlEdge `xml:"edge"`
}

type xmlDoc struct {
	XMLName xml.Name `xml:"graphml"`
	NS      string   `xml:"xmlns,attr"`
	Keys    []xmlKey `xml:"key"`
	Graph   xmlGraph `xml:"graph"`
}

// WriteGraphML serializes g as GraphML.
func WriteGraphML(w io.Writer, g *graph.Graph) error {
	doc := xmlDoc{NS: graphmlNS}

	keyID := 0
	keyIDs := make(map[string]string) // "for/name" -> key id
	declare := func(forWhat string, names []string) {
		for _, name := range names {
			id := fmt.Sprintf("d%d", keyID)
			keyID++
			doc.Keys = append(doc.Keys, xmlKey{ID: id, For: forWhat, Name: name, Type: "string"})
			keyIDs[forWhat+"/"+name] = id
		}
	}
	declare("graph", graphKeys)
	declare("node", nodeKeys)
	declare("edge", edgeKeys)

	data := func(forWhat, name, value string) xmlData {
		return xmlData{Key: keyIDs[forWhat+"/"+name], Value: value}
	}
	addIf := func(list []xmlData, forWhat, name, value string) []xmlData {
		if value == "" {
			return list
		}
		return append(list, data(forWhat, name, value))
	}

	xg := xmlGraph{ID: "flow", EdgeDefault: "directed"}
	xg.Data = addIf(xg.Data, "graph", "script", g.Script)
	xg.Data = addIf(xg.Data, "graph", "root", g.Root)

	for _, n := range g.Nodes() {
		xn := xmlNode{ID: n.ID}
		xn.Data = append(xn.Data, data("node", "kind", string(n.Kind)))
		xn.Data = addIf(xn.Data, "node", "label", n.Label)
		xn.Data = addIf(xn.Data, "node", "sourceLocation", n.Loc.String())
		xn.Data = addIf(xn.Data, "node", "qual", n.Qual)
		xn.Data = addIf(xn.Data, "node", "type", n.Type)
		xn.Data = addIf(xn.Data, "node", "summary", n.Summary)
		xn.Data = addIf(xn.Data, "node", "seq", formatUint(n.Seq))
		if n.Kind == graph.NodeOperation {
			xn.Data = addIf(xn.Data, "node", "start_seq", formatUint(n.StartSeq))
			xn.Data = addIf(xn.Data, "node", "end_seq", formatUint(n.EndSeq))
		}
		if n.Kind == graph.NodeValue {
			xn.Data = append(xn.Data,
				data("node", "owner_slot", strconv.Itoa(n.Owner.Slot)),
				data("node", "owner_gen", strconv.Itoa(n.Owner.Gen)))
			if n.External {
				xn.Data = append(xn.Data, data("node", "external", "true"))
			}
			xn.Data = addIf(xn.Data, "node", "producer", n.Producer)
		}
		xg.Nodes = append(xg.Nodes, xn)
	}

	for _, e := range g.Edges() {
		xe := xmlEdge{Source: e.From, Target: e.To}
		xe.Data = append(xe.Data, data("edge", "kind", string(e.Kind)))
		xe.Data = addIf(xe.Data, "edge", "op", e.Op)
		xe.Data = addIf(xe.Data, "edge", "name", e.Name)
		xe.Data = addIf(xe.Data, "edge", "seq", formatUint(e.Seq))
		xg.Edges = append(xg.Edges, xe)
	}
	doc.Graph = xg

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("export: write graphml: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode graphml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("export: encode graphml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ReadGraphML parses a GraphML graph file written by WriteGraphML or
// an equivalent producer honoring the same attr.name declarations.
func ReadGraphML(r io.Reader) (*graph.Graph, error) {
	var doc xmlDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("export: parse graphml: %w", err)
	}

	names := make(map[string]string) // key id -> attr name
	for _, k := range doc.Keys {
		names[k.ID] = k.Name
	}
	attrs := func(data []xmlData) map[string]string {
		m := make(map[string]string, len(data))
		for _, d := range data {
			if name, ok := names[d.Key]; ok {
				m[name] = d.Value
			}
		}
		return m
	}

	ga := attrs(doc.Graph.Data)
	g := graph.New(ga["script"])
	g.Root = ga["root"]

	for _, xn := range doc.Graph.Nodes {
		a := attrs(xn.Data)
		n := &graph.Node{
			ID:       xn.ID,
			Kind:     graph.NodeKind(a["kind"]),
			Label:    a["label"],
			Loc:      parseLoc(a["sourceLocation"]),
			Qual:     a["qual"],
			Type:     a["type"],
			Summary:  a["summary"],
			External: a["external"] == "true",
			Producer: a["producer"],
			Seq:      parseUint(a["seq"]),
			StartSeq: parseUint(a["start_seq"]),
			EndSeq:   parseUint(a["end_seq"]),
			Owner:    object.None,
		}
		if n.Kind == graph.NodeValue {
			n.Owner = object.Identity{
				Slot: parseInt(a["owner_slot"]),
				Gen:  parseInt(a["owner_gen"]),
			}
		}
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("export: import: %w", err)
		}
	}

	for _, xe := range doc.Graph.Edges {
		a := attrs(xe.Data)
		e := graph.Edge{
			Kind: graph.EdgeKind(a["kind"]),
			From: xe.Source,
			To:   xe.Target,
			Op:   a["op"],
			Name: a["name"],
			Seq:  parseUint(a["seq"]),
		}
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("export: import: %w", err)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("export: import: %w", err)
	}
	return g, nil
}

func formatUint(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

// parseLoc reverses event.Loc.String: "file:line:col". The file part
// may itself contain colons, so the split runs from the right.
func parseLoc(s string) event.Loc {
	if s == "" {
		return event.Loc{}
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return event.Loc{File: s}
	}
	j := strings.LastIndex(s[:i], ":")
	if j < 0 {
		return event.Loc{File: s}
	}
	line, err1 := strconv.Atoi(s[j+1 : i])
	col, err2 := strconv.Atoi(s[i+1:])
	if err1 != nil || err2 != nil {
		return event.Loc{File: s}
	}
	return event.Loc{File: s[:j], Line: line, Col: col}
}
