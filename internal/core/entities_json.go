package core

import "encoding/json"

// EntityMap serializes flat, matching the entities column schema:
// every entity class is a top-level key next to "meta".
//
//	{"PERSON": [...], "LOC": [...], ..., "meta": {...}}
func (m EntityMap) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(m.ByClass)+1)
	for class, entities := range m.ByClass {
		if entities == nil {
			entities = []Entity{}
		}
		doc[class] = entities
	}
	doc["meta"] = m.Meta
	return json.Marshal(doc)
}

// UnmarshalJSON restores the flat layout.
func (m *EntityMap) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.ByClass = make(map[string][]Entity, len(doc))
	for key, raw := range doc {
		if key == "meta" {
			if err := json.Unmarshal(raw, &m.Meta); err != nil {
				return err
			}
			continue
		}
		var entities []Entity
		if err := json.Unmarshal(raw, &entities); err != nil {
			return err
		}
		m.ByClass[key] = entities
	}
	return nil
}
