package app

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"fsgraph/internal/config"
	"fsgraph/internal/miner"
)

// buildSchema extends the builtin vocabulary and schema with the
// [schema] and [writeback] settings.
func buildSchema(cfg *config.Config) (miner.Vocabulary, *miner.Schema, error) {
	vocab := miner.DefaultVocabulary()
	if err := vocab.Override(cfg.Schema.Vocabulary); err != nil {
		return vocab, nil, fmt.Errorf("schema vocabulary: %w", err)
	}

	schema := miner.DefaultSchema(vocab)
	schema.AddTypes(cfg.Schema.Types...)
	for name, kindName := range cfg.Schema.Properties {
		kind, err := miner.ParseValueKind(kindName)
		if err != nil {
			return vocab, nil, fmt.Errorf("schema property %s: %w", name, err)
		}
		schema.AddProperty(name, kind)
	}
	prefixes := make([]string, 0, len(cfg.Schema.Graphs))
	for prefix := range cfg.Schema.Graphs {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		schema.AddGraphRule(prefix, cfg.Schema.Graphs[prefix])
	}
	schema.AddWritebackTypes(cfg.Writeback.Types...)
	return vocab, schema, nil
}

// parseProperty types a command-line value by the property's declared kind.
func parseProperty(schema *miner.Schema, name, raw string) (miner.Value, error) {
	kind, ok := schema.PropertyKind(name)
	if !ok {
		return miner.Value{}, fmt.Errorf("unknown property %q", name)
	}
	switch kind {
	case miner.KindString:
		return miner.StringValue(raw), nil
	case miner.KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return miner.Value{}, fmt.Errorf("property %s expects an integer: %w", name, err)
		}
		return miner.IntValue(n), nil
	case miner.KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return miner.Value{}, fmt.Errorf("property %s expects a number: %w", name, err)
		}
		return miner.FloatValue(f), nil
	case miner.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return miner.Value{}, fmt.Errorf("property %s expects a boolean: %w", name, err)
		}
		return miner.BoolValue(b), nil
	case miner.KindTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return miner.Value{}, fmt.Errorf("property %s expects an RFC 3339 time: %w", name, err)
		}
		return miner.TimeValue(t), nil
	case miner.KindRef:
		return miner.RefValue(raw), nil
	default:
		return miner.Value{}, fmt.Errorf("property %s has unsupported kind %s", name, kind)
	}
}
