package card

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"datastudio/internal/dataset"
)

func TestTitle(t *testing.T) {
	cases := map[string]string{
		"lab/pick_place":    "Pick Place",
		"org/so100-merge_2": "So100 Merge 2",
		"single":            "Single",
	}
	for in, want := range cases {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderFrontMatter(t *testing.T) {
	c := Card{
		RepoID: "lab/out",
		Info:   dataset.Info{CodebaseVersion: "v2.1", TotalEpisodes: 3, DataPath: "data/chunk-{episode_chunk:03d}/episode_{episode_index:06d}.jsonl.zst"},
	}
	body, err := c.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parts := strings.SplitN(body, "---\n", 3)
	if len(parts) != 3 || parts[0] != "" {
		t.Fatalf("expected front matter block, got %q", body[:min(len(body), 80)])
	}
	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		t.Fatalf("front matter: %v", err)
	}
	if fm.License != DefaultLicense || len(fm.Configs) != 1 || fm.Configs[0].DataFiles != "data/*/*.jsonl.zst" {
		t.Fatalf("unexpected front matter %+v", fm)
	}
	if !strings.Contains(body, `"total_episodes": 3`) {
		t.Fatal("expected info document embedded in card")
	}
	if strings.Contains(body, "Source Datasets") {
		t.Fatal("filter card should not list sources")
	}
}

func TestRenderMergeListsSources(t *testing.T) {
	c := Card{RepoID: "lab/merged", Sources: []string{"lab/a", "lab/b"}}
	body, err := c.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"merging 2 datasets", "- [lab/a](https://huggingface.co/datasets/lab/a)", "- [lab/b]"} {
		if !strings.Contains(body, want) {
			t.Errorf("card missing %q", want)
		}
	}
	if strings.Index(body, "lab/a") > strings.Index(body, "lab/b") {
		t.Error("sources should keep merge order")
	}
}

func TestWriteTruncates(t *testing.T) {
	root := t.TempDir()
	readme := filepath.Join(root, dataset.ReadmeFile)
	if err := os.WriteFile(readme, []byte(strings.Repeat("x", 10000)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (Card{RepoID: "lab/out"}).Write(root); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(readme)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "xxxx") || !strings.HasPrefix(string(data), "---\n") {
		t.Fatal("README was not replaced")
	}
}
