package jobspec

import "testing"

func TestDecodeBasicJob(t *testing.T) {
	tree := map[string]any{
		"Label":            "net.example.echo",
		"ProgramArguments": []any{"/bin/echo", "hi"},
		"RunAtLoad":        true,
		"UnknownFutureKey": "ignored",
	}
	spec, warnings, err := Decode(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Key != "UnknownFutureKey" {
		t.Fatalf("expected one warning for unknown key, got %+v", warnings)
	}
	if spec.Program != "/bin/echo" {
		t.Fatalf("expected Program defaulted from ProgramArguments, got %q", spec.Program)
	}
	if !spec.Flags.RunAtLoad {
		t.Fatal("expected RunAtLoad true")
	}
}

func TestDecodeRejectsEmptyLabel(t *testing.T) {
	_, _, err := Decode(map[string]any{"Label": ""})
	if err == nil {
		t.Fatal("expected error for empty label")
	}
}

func TestDecodeRejectsReservedPrefix(t *testing.T) {
	_, _, err := Decode(map[string]any{"Label": "com.apple.foo"})
	if err == nil {
		t.Fatal("expected error for reserved vendor prefix")
	}
}

func TestDecodeRejectsNumericLabel(t *testing.T) {
	_, _, err := Decode(map[string]any{"Label": "12345"})
	if err == nil {
		t.Fatal("expected error for all-numeric label")
	}
}

func TestDecodeKeepAliveDict(t *testing.T) {
	tree := map[string]any{
		"Label": "net.example.svc",
		"KeepAlive": map[string]any{
			"SuccessfulExit": false,
			"PathState": map[string]any{
				"/var/run/ready": true,
			},
		},
	}
	spec, _, err := Decode(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.Predicates) != 2 {
		t.Fatalf("expected 2 predicates, got %d", len(spec.Predicates))
	}
	if spec.EffectiveOnDemand() {
		t.Fatal("job with predicates must not be effectively on-demand")
	}
}

func TestServiceOnlyJobPermitted(t *testing.T) {
	tree := map[string]any{
		"Label": "net.example.broker-entry",
		"MachServices": map[string]any{
			"net.example.port": true,
		},
	}
	spec, _, err := Decode(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.ServiceOnly() {
		t.Fatal("expected ServiceOnly true for a job with no Program/ProgramArguments")
	}
}

func TestDecodeCalendarIntervalWildcards(t *testing.T) {
	tree := map[string]any{
		"Label": "net.example.nightly",
		"StartCalendarInterval": map[string]any{
			"Minute": 0,
			"Hour":   3,
		},
	}
	spec, _, err := Decode(tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.CalendarIntervals) != 1 {
		t.Fatalf("expected 1 calendar interval, got %d", len(spec.CalendarIntervals))
	}
	ci := spec.CalendarIntervals[0]
	if ci.Minute != 0 || ci.Hour != 3 || ci.Mday != -1 || ci.Weekday != -1 || ci.Month != -1 {
		t.Fatalf("unexpected calendar fields: %+v", ci)
	}
}
