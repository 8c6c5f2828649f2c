package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fsgraph/internal/miner"
)

// ParseJSONLD decodes extractor output. The document is a node object, an
// array of node objects, or an object with an "@graph" array; every node
// describes the same file. Values are plain JSON scalars, {"@id": ...}
// references or {"@value": ..., "@type": "xsd:..."} typed literals. The
// "nie:mimeType" property also sets the statement set's MIME type.
func ParseJSONLD(data []byte, mimeProperty string) (*miner.StatementSet, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("malformed JSON-LD")
	}
	root := gjson.ParseBytes(data)

	var nodes []gjson.Result
	switch {
	case root.IsArray():
		nodes = root.Array()
	case root.IsObject() && root.Get("@graph").IsArray():
		nodes = root.Get("@graph").Array()
	case root.IsObject():
		nodes = []gjson.Result{root}
	default:
		return nil, fmt.Errorf("JSON-LD document must be an object or array")
	}

	set := &miner.StatementSet{}
	for _, node := range nodes {
		if !node.IsObject() {
			return nil, fmt.Errorf("JSON-LD node must be an object, got %s", node.Type)
		}
		if err := parseNode(node, set); err != nil {
			return nil, err
		}
	}
	for _, p := range set.Properties {
		if p.Predicate == mimeProperty && p.Object.Kind == miner.KindString {
			set.MIME = p.Object.Lexical
		}
	}
	return set, nil
}

func parseNode(node gjson.Result, set *miner.StatementSet) error {
	var err error
	node.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch name {
		case "@context", "@id":
			return true
		case "@type":
			for _, t := range each(value) {
				if t.Type != gjson.String {
					err = fmt.Errorf("@type must be a string")
					return false
				}
				set.Types = append(set.Types, t.String())
			}
			return true
		}
		for _, v := range each(value) {
			var obj miner.Value
			obj, err = parseValue(v)
			if err != nil {
				err = fmt.Errorf("property %s: %w", name, err)
				return false
			}
			set.Add(name, obj)
		}
		return true
	})
	return err
}

func each(v gjson.Result) []gjson.Result {
	if v.IsArray() {
		return v.Array()
	}
	return []gjson.Result{v}
}

func parseValue(v gjson.Result) (miner.Value, error) {
	switch v.Type {
	case gjson.String:
		return miner.StringValue(v.String()), nil
	case gjson.True, gjson.False:
		return miner.BoolValue(v.Bool()), nil
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return miner.FloatValue(v.Float()), nil
		}
		return miner.IntValue(v.Int()), nil
	case gjson.JSON:
		if id := v.Get("@id"); id.Exists() {
			return miner.RefValue(id.String()), nil
		}
		if lit := v.Get("@value"); lit.Exists() {
			return parseTyped(lit, v.Get("@type").String())
		}
		return miner.Value{}, fmt.Errorf("nested objects are not supported")
	default:
		return miner.Value{}, fmt.Errorf("unsupported value %s", v.Raw)
	}
}

func parseTyped(lit gjson.Result, datatype string) (miner.Value, error) {
	switch strings.TrimPrefix(datatype, "http://www.w3.org/2001/XMLSchema#") {
	case "", "xsd:string", "string":
		return miner.StringValue(lit.String()), nil
	case "xsd:integer", "xsd:int", "xsd:long", "integer", "int", "long":
		v, err := miner.StringValue(lit.String()).AsInt()
		if err != nil {
			return miner.Value{}, fmt.Errorf("bad integer %q", lit.String())
		}
		return miner.IntValue(v), nil
	case "xsd:double", "xsd:float", "xsd:decimal", "double", "float", "decimal":
		return miner.FloatValue(lit.Float()), nil
	case "xsd:boolean", "boolean":
		return miner.BoolValue(lit.Bool()), nil
	case "xsd:dateTime", "dateTime":
		t, err := time.Parse(time.RFC3339Nano, lit.String())
		if err != nil {
			return miner.Value{}, fmt.Errorf("bad dateTime %q", lit.String())
		}
		return miner.TimeValue(t), nil
	case "xsd:date", "date":
		t, err := time.Parse(time.DateOnly, lit.String())
		if err != nil {
			return miner.Value{}, fmt.Errorf("bad date %q", lit.String())
		}
		return miner.TimeValue(t), nil
	default:
		return miner.Value{}, fmt.Errorf("unknown datatype %q", datatype)
	}
}
