package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubTool struct {
	name string
	out  string
	err  error
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub " + s.name }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(s.out), s.err
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tools   []Tool
		wantErr bool
	}{
		{"single", []Tool{&stubTool{name: "record_triage"}}, false},
		{"two names", []Tool{&stubTool{name: "a"}, &stubTool{name: "b"}}, false},
		{"duplicate", []Tool{&stubTool{name: "a"}, &stubTool{name: "a"}}, true},
		{"empty name", []Tool{&stubTool{}}, true},
		{"nil tool", []Tool{nil}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRegistry()
			var err error
			for _, tool := range tt.tools {
				if err = r.Register(tool); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry().MustRegister(&stubTool{name: "a"})
	defer func() {
		if recover() == nil {
			t.Fatal("MustRegister did not panic on a duplicate name")
		}
	}()
	r.MustRegister(&stubTool{name: "a"})
}

func TestRegistry_Call(t *testing.T) {
	t.Parallel()

	boom := errors.New("invalid draft")
	r := NewRegistry().
		MustRegister(&stubTool{name: "ok", out: `{"ok":true}`}).
		MustRegister(&stubTool{name: "bad", err: boom})

	out, err := r.Call(context.Background(), "ok", json.RawMessage(`{}`))
	if err != nil || string(out) != `{"ok":true}` {
		t.Errorf("Call(ok) = %s, %v", out, err)
	}
	if _, err := r.Call(context.Background(), "bad", nil); !errors.Is(err, boom) {
		t.Errorf("Call(bad) err = %v, want %v", err, boom)
	}
	if _, err := r.Call(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Call(missing) err = %v, want ErrUnknownTool", err)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) found a tool")
	}
}

func TestRegistry_ToToolDefsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry().
		MustRegister(&stubTool{name: "record_triage"}).
		MustRegister(&stubTool{name: "classify_relevance"})

	defs := r.ToToolDefs()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	if defs[0].Name != "classify_relevance" || defs[1].Name != "record_triage" {
		t.Errorf("order = [%s %s], want sorted by name", defs[0].Name, defs[1].Name)
	}
	for _, d := range defs {
		if len(d.InputSchema) == 0 || d.Description == "" {
			t.Errorf("def %q incomplete: %+v", d.Name, d)
		}
	}
	if got := Def(&stubTool{name: "x"}); got.Name != "x" || got.Description != "stub x" {
		t.Errorf("Def = %+v", got)
	}
}
