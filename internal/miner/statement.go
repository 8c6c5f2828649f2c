package miner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind is the type tag of a statement object.
// The numeric values are persisted by the store and must not change.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindTime
	KindRef
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "double"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	case KindRef:
		return "resource"
	default:
		return "unknown"
	}
}

// ParseValueKind maps a configuration kind name to a ValueKind.
func ParseValueKind(name string) (ValueKind, error) {
	switch strings.ToLower(name) {
	case "string", "text":
		return KindString, nil
	case "integer", "int":
		return KindInt, nil
	case "double", "float":
		return KindFloat, nil
	case "boolean", "bool":
		return KindBool, nil
	case "datetime", "time":
		return KindTime, nil
	case "resource", "ref":
		return KindRef, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", name)
	}
}

// Value is a typed statement object kept in its lexical form.
type Value struct {
	Kind    ValueKind
	Lexical string
}

func StringValue(s string) Value { return Value{Kind: KindString, Lexical: s} }
func IntValue(n int64) Value     { return Value{Kind: KindInt, Lexical: strconv.FormatInt(n, 10)} }
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Lexical: strconv.FormatFloat(f, 'g', -1, 64)}
}
func BoolValue(b bool) Value { return Value{Kind: KindBool, Lexical: strconv.FormatBool(b)} }
func TimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Lexical: t.UTC().Format(time.RFC3339Nano)}
}
func RefValue(id string) Value { return Value{Kind: KindRef, Lexical: id} }

func (v Value) String() string { return v.Lexical }

// AsInt parses an integer value.
func (v Value) AsInt() (int64, error) {
	return strconv.ParseInt(v.Lexical, 10, 64)
}

// AsBool parses a boolean value.
func (v Value) AsBool() (bool, error) {
	return strconv.ParseBool(v.Lexical)
}

// AsTime parses a datetime value.
func (v Value) AsTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v.Lexical)
}

// Statement is one (subject, predicate, object) triple in a named graph.
type Statement struct {
	Subject   string
	Predicate string
	Object    Value
	Graph     string
}

// Property is a predicate/object pair about an implied subject.
type Property struct {
	Predicate string
	Object    Value
}

// StatementSet is the typed output of one extraction: the content
// resource's types and properties. Sets are validated against the Schema
// before they reach the store.
type StatementSet struct {
	MIME       string
	Graph      string
	Types      []string
	Properties []Property
}

// Add appends a property.
func (s *StatementSet) Add(predicate string, object Value) {
	s.Properties = append(s.Properties, Property{Predicate: predicate, Object: object})
}

// Pattern selects statements. Empty fields match anything.
type Pattern struct {
	Subject   string
	Predicate string
	Object    *Value
	Graph     string
}

// MutationOp is the kind of change a Mutation applies.
type MutationOp int

const (
	// MutInsert adds a statement; duplicates are ignored.
	MutInsert MutationOp = iota + 1
	// MutSet replaces every object of (subject, predicate) in the graph.
	MutSet
	// MutRemove drops statements of a subject, optionally narrowed by
	// predicate and graph.
	MutRemove
	// MutDelete drops a resource: every statement about it and every
	// statement referring to it.
	MutDelete
	// MutDeleteReferrers deletes every resource linked to Object through
	// Predicate.
	MutDeleteReferrers
)

// Mutation is one step of a transactional store update.
type Mutation struct {
	Op MutationOp
	Statement
}

func Insert(subject, predicate string, object Value, graph string) Mutation {
	return Mutation{Op: MutInsert, Statement: Statement{Subject: subject, Predicate: predicate, Object: object, Graph: graph}}
}

func Set(subject, predicate string, object Value, graph string) Mutation {
	return Mutation{Op: MutSet, Statement: Statement{Subject: subject, Predicate: predicate, Object: object, Graph: graph}}
}

// Remove drops statements of subject. An empty predicate or graph widens
// the match.
func Remove(subject, predicate, graph string) Mutation {
	return Mutation{Op: MutRemove, Statement: Statement{Subject: subject, Predicate: predicate, Graph: graph}}
}

func Delete(subject string) Mutation {
	return Mutation{Op: MutDelete, Statement: Statement{Subject: subject}}
}

func DeleteReferrers(predicate, object string) Mutation {
	return Mutation{Op: MutDeleteReferrers, Statement: Statement{Predicate: predicate, Object: RefValue(object)}}
}
