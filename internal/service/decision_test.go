package service

import (
	"testing"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

func TestClassify(t *testing.T) {
	c := NewClassifier([]string{"no reply", "nu răspund"}, []string{"pausing"})

	tests := []struct {
		in       string
		wantKind OutcomeKind
		wantText string
	}{
		{in: "Sure, see you at 5.", wantKind: KindRespond, wantText: "Sure, see you at 5."},
		{in: `"Quoted answer"`, wantKind: KindRespond, wantText: "Quoted answer"},
		{in: "", wantKind: KindSilent},
		{in: "   ", wantKind: KindSilent},
		{in: "NO REPLY", wantKind: KindSilent, wantText: "NO REPLY"},
		{in: `"no   reply"`, wantKind: KindSilent, wantText: "no   reply"},
		{in: "Nu raspund", wantKind: KindSilent, wantText: "Nu raspund"},
		{in: "Pausing now, bye", wantKind: KindPause, wantText: "Pausing now, bye"},
		{in: "no reply, pausing", wantKind: KindPause, wantText: "no reply, pausing"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, text := c.Classify(tt.in)
			if kind != tt.wantKind {
				t.Errorf("Classify(%q) kind = %s, want %s", tt.in, kind, tt.wantKind)
			}
			if tt.wantText != "" && text != tt.wantText {
				t.Errorf("Classify(%q) text = %q, want %q", tt.in, text, tt.wantText)
			}
		})
	}
}

func TestFoldText(t *testing.T) {
	tests := map[string]string{
		"Ștefan  ÎNCEPE":  "stefan incepe",
		"Crème brûlée":   "creme brulee",
		" plain\ttext\n": "plain text",
	}
	for in, want := range tests {
		if got := foldText(in); got != want {
			t.Errorf("foldText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShouldGenerate(t *testing.T) {
	tests := []struct {
		state     model.AssistantState
		addressed bool
		resume    bool
		want      bool
	}{
		{model.StateNormal, false, false, true},
		{model.StateNormal, true, false, true},
		{model.StatePaused, false, false, false},
		{model.StatePaused, true, false, true},
		{model.StatePaused, false, true, true},
	}
	for _, tt := range tests {
		if got := ShouldGenerate(tt.state, tt.addressed, tt.resume); got != tt.want {
			t.Errorf("ShouldGenerate(%s, %v, %v) = %v, want %v", tt.state, tt.addressed, tt.resume, got, tt.want)
		}
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		state   model.AssistantState
		kind    OutcomeKind
		replies int
		want    model.AssistantState
	}{
		{model.StateNormal, KindRespond, 3, model.StateNormal},
		{model.StateNormal, KindSilent, 0, model.StateNormal},
		{model.StateNormal, KindPause, 0, model.StatePaused},
		{model.StatePaused, KindPause, 0, model.StatePaused},
		{model.StatePaused, KindRespond, 5, model.StateNormal},
		{model.StatePaused, KindSilent, 0, model.StateNormal},
		{model.StatePaused, KindSilent, 1, model.StatePaused},
	}
	for _, tt := range tests {
		if got := NextState(tt.state, tt.kind, tt.replies); got != tt.want {
			t.Errorf("NextState(%s, %s, %d) = %s, want %s", tt.state, tt.kind, tt.replies, got, tt.want)
		}
	}
}
