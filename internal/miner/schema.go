package miner

import (
	"fmt"
	"sort"
	"strings"
)

// GraphRule routes content whose MIME type starts with Prefix into Graph.
type GraphRule struct {
	Prefix string
	Graph  string
}

// Schema is the opaque ontology subset the engine accepts from extractors:
// known types, property kinds, content graph routing and writeback types.
type Schema struct {
	types        map[string]struct{}
	properties   map[string]ValueKind
	writeback    map[string]struct{}
	graphs       []GraphRule
	defaultGraph string
}

// DefaultSchema returns a schema covering the structural vocabulary and the
// properties the builtin extractor produces.
func DefaultSchema(v Vocabulary) *Schema {
	s := &Schema{
		types:        make(map[string]struct{}),
		properties:   make(map[string]ValueKind),
		writeback:    make(map[string]struct{}),
		defaultGraph: "tracker:Documents",
	}
	s.AddTypes(
		v.FileDataObject, v.Folder, v.InformationElement, v.IndexedFolder,
		"nfo:Document", "nfo:PlainTextDocument", "nfo:PaginatedTextDocument",
		"nfo:Image", "nmm:Photo", "nfo:Audio", "nmm:MusicPiece", "nfo:Video",
		"nmm:Video", "nfo:Software", "nfo:Archive",
	)
	s.AddProperty(v.PlainTextContent, KindString)
	s.AddProperty(v.MIMEType, KindString)
	s.AddProperty("nie:title", KindString)
	s.AddProperty("nie:comment", KindString)
	s.AddProperty("nie:language", KindString)
	s.AddProperty("nie:contentCreated", KindTime)
	s.AddProperty("nco:creator", KindString)
	s.AddProperty("nfo:wordCount", KindInt)
	s.AddProperty("nfo:lineCount", KindInt)
	s.AddProperty("nfo:pageCount", KindInt)
	s.AddProperty("nfo:width", KindInt)
	s.AddProperty("nfo:height", KindInt)
	s.AddProperty("nfo:duration", KindInt)
	s.AddProperty("nfo:sampleRate", KindInt)
	s.AddProperty("nmm:artistName", KindString)
	s.AddProperty("nmm:albumTitle", KindString)
	s.AddProperty("nmm:trackNumber", KindInt)
	s.AddProperty("nao:hasTag", KindString)
	s.graphs = []GraphRule{
		{Prefix: "audio/", Graph: "tracker:Audio"},
		{Prefix: "image/", Graph: "tracker:Pictures"},
		{Prefix: "video/", Graph: "tracker:Video"},
		{Prefix: "application/x-executable", Graph: "tracker:Software"},
		{Prefix: "application/vnd.microsoft.portable-executable", Graph: "tracker:Software"},
	}
	return s
}

// AddTypes registers additional resource types.
func (s *Schema) AddTypes(types ...string) {
	for _, t := range types {
		s.types[t] = struct{}{}
	}
}

// AddProperty registers a property with its value kind.
func (s *Schema) AddProperty(name string, kind ValueKind) {
	s.properties[name] = kind
}

// AddWritebackTypes marks types whose properties can be written to files.
func (s *Schema) AddWritebackTypes(types ...string) {
	for _, t := range types {
		s.writeback[t] = struct{}{}
	}
}

// AddGraphRule routes a MIME prefix to a content graph. Longer prefixes win.
func (s *Schema) AddGraphRule(prefix, graph string) {
	s.graphs = append(s.graphs, GraphRule{Prefix: prefix, Graph: graph})
}

// PropertyKind returns the declared kind of a property.
func (s *Schema) PropertyKind(name string) (ValueKind, bool) {
	k, ok := s.properties[name]
	return k, ok
}

// GraphFor returns the content graph for a MIME type.
func (s *Schema) GraphFor(mime string) string {
	best := ""
	graph := s.defaultGraph
	for _, r := range s.graphs {
		if strings.HasPrefix(mime, r.Prefix) && len(r.Prefix) > len(best) {
			best = r.Prefix
			graph = r.Graph
		}
	}
	return graph
}

// Graphs lists every content graph the schema can route to.
func (s *Schema) Graphs() []string {
	seen := map[string]struct{}{s.defaultGraph: {}}
	for _, r := range s.graphs {
		seen[r.Graph] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Writable reports whether any of the types supports writeback.
func (s *Schema) Writable(types []string) bool {
	for _, t := range types {
		if _, ok := s.writeback[t]; ok {
			return true
		}
	}
	return false
}

// Validate rejects statement sets with unknown types, unknown predicates or
// objects of the wrong kind. Integers are accepted where doubles are declared.
func (s *Schema) Validate(set *StatementSet) error {
	for _, t := range set.Types {
		if _, ok := s.types[t]; !ok {
			return fmt.Errorf("unknown type %q", t)
		}
	}
	for _, p := range set.Properties {
		kind, ok := s.properties[p.Predicate]
		if !ok {
			return fmt.Errorf("unknown property %q", p.Predicate)
		}
		if p.Object.Kind == kind || (kind == KindFloat && p.Object.Kind == KindInt) {
			continue
		}
		return fmt.Errorf("property %q expects %s, got %s", p.Predicate, kind, p.Object.Kind)
	}
	return nil
}
