// Package card renders the README.md dataset card written next to meta/.
package card

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"datastudio/internal/dataset"
)

// DefaultLicense is the license declared in generated cards.
const DefaultLicense = "apache-2.0"

// FrontMatter is the YAML header consumed by dataset hubs.
type FrontMatter struct {
	License        string         `yaml:"license"`
	TaskCategories []string       `yaml:"task_categories"`
	Tags           []string       `yaml:"tags"`
	Configs        []ConfigSubset `yaml:"configs"`
}

// ConfigSubset names a set of data files.
type ConfigSubset struct {
	Name      string `yaml:"config_name"`
	DataFiles string `yaml:"data_files"`
}

// Card describes one generated README.
type Card struct {
	RepoID string
	Info   dataset.Info
	// Sources is set for merged datasets, in merge order.
	Sources []string
	License string
}

// Render returns the README body.
func (c Card) Render() (string, error) {
	license := c.License
	if license == "" {
		license = DefaultLicense
	}
	fm := FrontMatter{
		License:        license,
		TaskCategories: []string{"robotics"},
		Tags:           []string{"LeRobot"},
		Configs:        []ConfigSubset{{Name: "default", DataFiles: dataGlob(c.Info.DataPath)}},
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encode card front matter: %w", err)
	}
	infoJSON, err := json.MarshalIndent(c.Info, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode card info: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", Title(c.RepoID))
	if len(c.Sources) > 0 {
		fmt.Fprintf(&b, "This dataset was created by merging %d datasets.\n\n", len(c.Sources))
		b.WriteString("## Source Datasets\n\n")
		for _, src := range c.Sources {
			fmt.Fprintf(&b, "- [%s](https://huggingface.co/datasets/%s)\n", src, src)
		}
		b.WriteString("\n## Merge Details\n\n")
		fmt.Fprintf(&b, "- **Source Count**: %d datasets\n", len(c.Sources))
		b.WriteString("- **Episode Renumbering**: Episodes are renumbered sequentially starting from 0\n\n")
	} else {
		b.WriteString("This dataset was created with datastudio.\n\n")
	}
	b.WriteString("## Dataset Description\n\n")
	b.WriteString("- **Homepage:** [More Information Needed]\n")
	b.WriteString("- **Paper:** [More Information Needed]\n")
	fmt.Fprintf(&b, "- **License:** %s\n\n", license)
	b.WriteString("## Dataset Structure\n\n")
	fmt.Fprintf(&b, "[%s](%s):\n```json\n%s\n```\n\n", dataset.InfoFile, dataset.InfoFile, infoJSON)
	b.WriteString("## Citation\n\n**BibTeX:**\n\n```bibtex\n[More Information Needed]\n```\n")
	return b.String(), nil
}

// Write renders the card into root/README.md, replacing any existing file.
func (c Card) Write(root string) error {
	body, err := c.Render()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, dataset.ReadmeFile), []byte(body), 0o644)
}

// Title turns "lab/pick_place-v2" into "Pick Place V2".
func Title(repoID string) string {
	name := path.Base(strings.Trim(repoID, "/"))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}

// dataGlob converts a data_path template into a glob over all episodes.
func dataGlob(template string) string {
	if template == "" {
		return "data/*/*"
	}
	ext := path.Ext(template)
	if strings.HasSuffix(template, ".jsonl"+ext) && ext != ".jsonl" {
		ext = ".jsonl" + ext
	}
	return "data/*/*" + ext
}
