package logger

import "testing"

type recordedCall struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	calls []recordedCall
}

func (r *recorder) record(level, message string, keyvals []any) {
	r.calls = append(r.calls, recordedCall{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.record("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.record("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.record("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.record("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.record("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.record("fatal", m, kv) }

func TestDispatchToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	defer Reset()

	Info("stage finished", "stage", "fetch")
	Warn("dangling associations", "count", 3)

	for _, r := range []*recorder{a, b} {
		if len(r.calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(r.calls))
		}
		if r.calls[0].level != "info" || r.calls[0].message != "stage finished" {
			t.Fatalf("unexpected first call %+v", r.calls[0])
		}
		if len(r.calls[1].keyvals) != 2 || r.calls[1].keyvals[1] != 3 {
			t.Fatalf("expected keyvals to be forwarded, got %v", r.calls[1].keyvals)
		}
	}
}

func TestLogForwardsKeyvals(t *testing.T) {
	r := &recorder{}
	Init(r)
	defer Reset()

	Log("plain", "run_id", "abc")

	if len(r.calls) != 1 || len(r.calls[0].keyvals) != 2 {
		t.Fatalf("expected keyvals on Log, got %+v", r.calls)
	}
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	Reset()
	// Must not panic.
	Info("nobody listens")
	Debug("nobody listens")
}
