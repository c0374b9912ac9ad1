package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"datastudio/internal/testsupport"
)

func writeSourceDataset(t *testing.T, env *cliTestEnv, repo string, fps int, lengths ...int) {
	t.Helper()
	episodes := make([]testsupport.EpisodeFixture, len(lengths))
	labels := []string{"pick", "place"}
	for i, n := range lengths {
		episodes[i] = testsupport.EpisodeFixture{Length: n, Tasks: []string{labels[i%2]}}
	}
	testsupport.WriteDataset(t, testsupport.DatasetFixture{
		RepoID:    repo,
		Root:      env.cfg.DatasetRoot(repo),
		FPS:       fps,
		VideoKeys: []string{"observation.images.wrist"},
		Episodes:  episodes,
	})
}

func TestFilterCommandPublishesAndRecordsRun(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/src", 10, 3, 4, 5, 6, 7)

	out, _, err := runCLI(t, []string{"--json", "filter",
		"--source", "lab/src", "--episodes", "4,0,2", "--task", "2=custom_pick", "--dest", "lab/subset"}, env.configPath)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	var run runView
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode filter output %q: %v", out, err)
	}
	if run.Stage != "done" || run.Result == nil || run.Result.Episodes != 3 || run.Result.Frames != 15 {
		t.Fatalf("unexpected run: %#v", run)
	}

	out, _, err = runCLI(t, []string{"--json", "inspect", "lab/subset"}, env.configPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var inspected struct {
		Episodes []struct {
			Index int      `json:"episode_index"`
			Tasks []string `json:"tasks"`
		} `json:"episodes"`
	}
	if err := json.Unmarshal([]byte(out), &inspected); err != nil {
		t.Fatalf("decode inspect output: %v", err)
	}
	if len(inspected.Episodes) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(inspected.Episodes))
	}
	if got := inspected.Episodes[1].Tasks; !reflect.DeepEqual(got, []string{"pick", "custom_pick"}) {
		t.Fatalf("episode 1 tasks = %v", got)
	}

	out, _, err = runCLI(t, []string{"runs", "show", run.ID[:8]}, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, run.ID)
	requireContains(t, out, "lab/subset")

	out, _, err = runCLI(t, []string{"--json", "runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var listed []runView
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode runs list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != run.ID || listed[0].Stage != "done" {
		t.Fatalf("unexpected run history: %#v", listed)
	}
}

func TestFilterCommandTextOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/src", 10, 2, 2)

	out, _, err := runCLI(t, []string{"filter", "--source", "lab/src", "--episodes", "1", "--dest", "lab/one"}, env.configPath)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	requireContains(t, out, "done:")
	requireContains(t, out, "1 episodes, 2 frames")
	if _, err := os.Stat(filepath.Join(env.cfg.DatasetRoot("lab/one"), "meta", "info.json")); err != nil {
		t.Fatalf("published info missing: %v", err)
	}
}

func TestFilterCommandRejectsRangePastSource(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/src", 10, 2, 2, 2)

	_, _, err := runCLI(t, []string{"filter", "--source", "lab/src", "--episodes", "0-2000000000", "--dest", "lab/all"}, env.configPath)
	if err == nil {
		t.Fatal("expected an out-of-range episode range to be rejected")
	}
	requireContains(t, err.Error(), "source has 3 episodes")
	if _, err := os.Stat(env.cfg.DatasetRoot("lab/all")); !os.IsNotExist(err) {
		t.Fatalf("nothing should be published, stat err = %v", err)
	}
}

func TestMergeCommandReportsValidationFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/a", 10, 2, 3)
	writeSourceDataset(t, env, "lab/b", 30, 2)

	_, _, err := runCLI(t, []string{"merge", "--source", "lab/a", "--source", "lab/b@0.01", "--dest", "lab/ab"}, env.configPath)
	if err == nil {
		t.Fatal("expected merge to fail on fps mismatch")
	}
	requireContains(t, err.Error(), "validation error")
	requireContains(t, err.Error(), "fps")
	if _, statErr := os.Stat(env.cfg.DatasetRoot("lab/ab")); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not exist, stat err = %v", statErr)
	}

	out, _, err := runCLI(t, []string{"--json", "runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var listed []runView
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode runs list: %v", err)
	}
	if len(listed) != 1 || listed[0].Stage != "failed" || listed[0].ErrorKind != "validation" {
		t.Fatalf("unexpected run history: %#v", listed)
	}
	if !reflect.DeepEqual(listed[0].Sources, []string{"lab/a", "lab/b"}) {
		t.Fatalf("sources = %v", listed[0].Sources)
	}
}

func TestMergeCommandSucceeds(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/a", 10, 2, 3)
	writeSourceDataset(t, env, "lab/b", 10, 4)

	out, _, err := runCLI(t, []string{"--json", "merge", "--source", "lab/a", "--source", "lab/b", "--dest", "lab/ab"}, env.configPath)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var run runView
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode merge output: %v", err)
	}
	if run.Result == nil || run.Result.Episodes != 3 || run.Result.Frames != 9 || run.Result.Tasks != 2 {
		t.Fatalf("unexpected merge result: %#v", run.Result)
	}
}

func TestInspectTextAndMissingDataset(t *testing.T) {
	env := setupCLITestEnv(t)
	writeSourceDataset(t, env, "lab/src", 15, 2, 3, 4)

	out, _, err := runCLI(t, []string{"inspect", "lab/src", "--limit", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	requireContains(t, out, "== lab/src ==")
	requireContains(t, out, "observation.images.wrist")
	requireContains(t, out, "1 more episodes")
	requireContains(t, out, "place")

	_, _, err = runCLI(t, []string{"inspect", "lab/missing"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStagingListAndClean(t *testing.T) {
	env := setupCLITestEnv(t)

	stale := filepath.Join(env.cfg.Paths.StagingDir, "abandoned-run")
	if err := os.MkdirAll(filepath.Join(stale, "lab__x"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "lab__x", "part"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, _, err := runCLI(t, []string{"--json", "staging", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	var listing struct {
		Directories []struct{ RunID string } `json:"directories"`
	}
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("decode staging list: %v", err)
	}
	if len(listing.Directories) != 1 || listing.Directories[0].RunID != "abandoned-run" {
		t.Fatalf("unexpected listing: %s", out)
	}

	out, _, err = runCLI(t, []string{"staging", "clean"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean: %v", err)
	}
	requireContains(t, out, "Removed 1 stale directories")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale directory still present: %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestDoctorPassesWithLocalTarget(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	requireContains(t, out, "Staging directory:")
	requireContains(t, out, "[OK]")
}

func TestDoctorNotifyFailsWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"doctor", "--notify"}, env.configPath)
	if err == nil {
		t.Fatal("expected doctor --notify to fail without a topic")
	}
	requireContains(t, err.Error(), "ntfy_topic is not set")
	requireContains(t, out, "Notifications:")
}

func TestParseEpisodeList(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"0,2,4", []int{0, 2, 4}, false},
		{" 3 , 1 ", []int{1, 3}, false},
		{"0-2,7", []int{0, 1, 2, 7}, false},
		{"1-3,2", []int{1, 2, 3}, false},
		{"8-9", []int{8, 9}, false},
		{"5-3", nil, true},
		{"10", nil, true},
		{"0-10", nil, true},
		{"0-2000000000", nil, true},
		{"-1", nil, true},
		{"a", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		got, err := parseEpisodeList(tt.in, 10)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseEpisodeList(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseEpisodeList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseTaskOverrides(t *testing.T) {
	got, err := parseTaskOverrides([]string{"2=custom_pick", "5 = stack the cups"})
	if err != nil {
		t.Fatalf("parseTaskOverrides: %v", err)
	}
	want := map[int]string{2: "custom_pick", 5: "stack the cups"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for _, bad := range [][]string{{"2"}, {"x=label"}, {"1="}, {"1=a", "1=b"}} {
		if _, err := parseTaskOverrides(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestParseMergeSource(t *testing.T) {
	repo, tol, err := parseMergeSource("lab/b@0.05")
	if err != nil || repo != "lab/b" || tol == nil || *tol != 0.05 {
		t.Fatalf("unexpected parse: %q %v %v", repo, tol, err)
	}
	repo, tol, err = parseMergeSource("lab/a")
	if err != nil || repo != "lab/a" || tol != nil {
		t.Fatalf("unexpected parse: %q %v %v", repo, tol, err)
	}
	if _, _, err := parseMergeSource("lab/a@-1"); err == nil {
		t.Fatal("expected negative tolerance error")
	}
}
