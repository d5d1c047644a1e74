package classify

import (
	"testing"

	"warboard/internal/domain"
)

func TestParse(t *testing.T) {
	r := Parse(`{"classification":"NEW_TASK","confidence":"HIGH","task_title":"Redo homepage hero","task_project":"acme","reasoning":"explicit request"}`)
	if r.Classification != domain.ClassNewTask || r.Confidence != domain.ConfidenceHigh {
		t.Fatalf("parsed %+v", r)
	}
	if r.TaskTitle == nil || *r.TaskTitle != "Redo homepage hero" {
		t.Fatalf("title = %v", r.TaskTitle)
	}
}

func TestParseStripsFences(t *testing.T) {
	r := Parse("```json\n{\"classification\":\"STATUS_UPDATE\",\"confidence\":\"MEDIUM\",\"status_update_to\":\"done\"}\n```")
	if r.Classification != domain.ClassStatusUpdate {
		t.Fatalf("classification = %v", r.Classification)
	}
	if r.StatusUpdateTo == nil || *r.StatusUpdateTo != "done" {
		t.Fatalf("status_update_to = %v", r.StatusUpdateTo)
	}
}

func TestParseFallback(t *testing.T) {
	for _, text := range []string{"", "not json at all", "{\"confidence\":\"HIGH\"}"} {
		r := Parse(text)
		if r.Classification != domain.ClassChatter || r.Confidence != domain.ConfidenceLow {
			t.Errorf("Parse(%q) = %+v, want low-confidence CHATTER", text, r)
		}
	}
}
