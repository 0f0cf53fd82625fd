package schema

import (
	"encoding/json"
	"testing"

	"github.com/skeinlabs/skein/internal/story"
)

func TestRawForAllKinds(t *testing.T) {
	for _, kind := range story.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			raw, err := RawForKind(kind)
			if err != nil {
				t.Fatalf("RawForKind(%s) error = %v", kind, err)
			}
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				t.Fatalf("schema for %s is not valid JSON: %v", kind, err)
			}
			if doc["type"] != "object" {
				t.Errorf("schema for %s: type = %v, want object", kind, doc["type"])
			}
		})
	}
}

func TestValidateWorld(t *testing.T) {
	t.Run("accepts valid payload", func(t *testing.T) {
		payload := json.RawMessage(`{"facts":[{"entity":"Commander Vex","attribute":"rank","value":"commander"}]}`)
		if err := ValidateKind(story.KindWorld, payload); err != nil {
			t.Errorf("ValidateKind() error = %v", err)
		}
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		payload := json.RawMessage(`{"facts":[{"entity":"Vex","attribute":"rank"}]}`)
		if err := ValidateKind(story.KindWorld, payload); err == nil {
			t.Error("expected validation error for missing value")
		}
	})

	t.Run("rejects unknown top-level field", func(t *testing.T) {
		payload := json.RawMessage(`{"facts":[],"extra":true}`)
		if err := ValidateKind(story.KindWorld, payload); err == nil {
			t.Error("expected validation error for additional property")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		if err := ValidateKind(story.KindWorld, json.RawMessage(`{`)); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}

func TestValidateStructureEnums(t *testing.T) {
	payload := json.RawMessage(`{
		"scenes": [{"type":"chase","location":"bridge","goal":"escape","conflict":"doors","outcome":"failure","word_count":500}],
		"pacing": {"action_pct":50,"dialogue_pct":20,"introspection_pct":20,"exposition_pct":10,"pace":"fast","tension":8},
		"themes": []
	}`)
	if err := ValidateKind(story.KindStructure, payload); err == nil {
		t.Error("expected validation error for unknown scene type")
	}
}

func TestValidateContext(t *testing.T) {
	payload := json.RawMessage(`{
		"timeline_context": "Day 5 of the expedition",
		"entities_summary": "Vex, the Artemis",
		"events_summary": "The signal is traced to the station.",
		"character_developments": "Vex grows suspicious of Chen.",
		"plot_progression": "origin of the artifact advanced",
		"worldbuilding_additions": "Deck 7 has no comms coverage.",
		"themes_present": ["trust"],
		"emotional_arc": "Tense throughout",
		"condensed_text": "Chapter summary."
	}`)
	if err := Validate(ContextKey, payload); err != nil {
		t.Errorf("Validate(context) error = %v", err)
	}
}
