package device

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/sysfs"
)

// tree is a fake sysfs rooted in a temp dir.
type tree struct {
	t    *testing.T
	root string
}

func newTree(t *testing.T) *tree {
	return &tree{t: t, root: t.TempDir()}
}

func (tr *tree) mkdir(p string) *tree {
	tr.t.Helper()
	require.NoError(tr.t, os.MkdirAll(filepath.Join(tr.root, p), 0o755))
	return tr
}

func (tr *tree) write(p string, v int) *tree {
	tr.t.Helper()
	full := filepath.Join(tr.root, p)
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(tr.t, os.WriteFile(full, []byte(strconv.Itoa(v)+"\n"), 0o644))
	return tr
}

func (tr *tree) fs() *sysfs.FS {
	return sysfs.New(tr.root)
}

func endPath(bat string) string {
	return sysfs.BatteryPath(bat, attrEndThreshold)
}

func startPath(bat string) string {
	return sysfs.BatteryPath(bat, attrStartThreshold)
}

// fakeRunner records commands and answers through fn.
type fakeRunner struct {
	mu    sync.Mutex
	calls []privileged.Command
	fn    func(cmd privileged.Command) (privileged.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd privileged.Command) (privileged.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.fn == nil {
		return privileged.Result{}, nil
	}
	return f.fn(cmd)
}

func (f *fakeRunner) commands() []privileged.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]privileged.Command(nil), f.calls...)
}

// writingRunner simulates the helper writing BATn_END[_START] values into tr.
func writingRunner(tr *tree) *fakeRunner {
	return &fakeRunner{fn: func(cmd privileged.Command) (privileged.Result, error) {
		bat, _, _ := strings.Cut(cmd.Name, "_")
		end, _ := strconv.Atoi(cmd.Arg1)
		tr.write(endPath(bat), end)
		if strings.HasSuffix(cmd.Name, "_END_START") {
			start, _ := strconv.Atoi(cmd.Arg2)
			tr.write(startPath(bat), start)
		}
		return privileged.Result{}, nil
	}}
}

// recorder is an events.Publisher keeping everything published.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(name string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	r.events = append(r.events, events.Event{Name: name, Data: b})
	r.mu.Unlock()
}

func (r *recorder) applied(t *testing.T) []events.ThresholdAppliedEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.ThresholdAppliedEvent
	for _, ev := range r.events {
		if ev.Name != events.ThresholdApplied {
			continue
		}
		p, err := events.DecodeAs[events.ThresholdAppliedEvent](ev)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func (r *recorder) levels(t *testing.T) []int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Name != events.BatteryLevel {
			continue
		}
		p, err := events.DecodeAs[events.BatteryLevelEvent](ev)
		require.NoError(t, err)
		out = append(out, p.Level)
	}
	return out
}

func newEnv(tr *tree, runner privileged.Runner) (Env, *recorder) {
	rec := &recorder{}
	return Env{
		FS:     tr.fs(),
		Runner: runner,
		Config: config.NewFileFromConfig(nil, ""),
		Events: rec,
	}, rec
}
