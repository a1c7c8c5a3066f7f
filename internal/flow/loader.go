package flow

import (
	"fmt"
	"reflect"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// FromYAML decodes a flow description from YAML (or JSON, which YAML
// accepts). The result is decoded only, not validated.
func FromYAML(data []byte) (*domain.FlowConfig, error) {
	var cfg domain.FlowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &cfg, nil
}

// FromMap decodes a flow description that arrived as a generic JSON
// object, e.g. an HTTP request body. String-or-list fields such as
// onIntent are normalized by a decode hook.
func FromMap(raw map[string]any) (*domain.FlowConfig, error) {
	var cfg domain.FlowConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &cfg,
		DecodeHook: stringListHook,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &cfg, nil
}

var stringListType = reflect.TypeOf(domain.StringList{})

// stringListHook lets flow authors write onIntent as a scalar or a list.
func stringListHook(from, to reflect.Type, data any) (any, error) {
	if to != stringListType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return domain.StringList{v}, nil
	case []string:
		return domain.StringList(v), nil
	case []any:
		out := make(domain.StringList, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string in intent list, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return data, nil
}

// Parse decodes and validates in one step, the path used at session
// creation time.
func Parse(raw map[string]any) (*domain.FlowConfig, Result, error) {
	cfg, err := FromMap(raw)
	if err != nil {
		return nil, Result{Errors: []string{err.Error()}}, err
	}
	res := Validate(cfg)
	if err := res.Err(); err != nil {
		return nil, res, err
	}
	return cfg, res, nil
}
