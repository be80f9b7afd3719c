package service

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a named block of instructions injected into the system prompt.
// Skills live on disk as SKILL.md files with YAML frontmatter.
type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"-"`
}

const skillFileName = "SKILL.md"

// ParseSkillFile splits a SKILL.md into its YAML frontmatter and the
// instruction body below it.
func ParseSkillFile(data []byte) (*Skill, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---") {
		return nil, fmt.Errorf("skill file missing frontmatter")
	}

	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("skill file frontmatter not terminated")
	}

	var skill Skill
	if err := yaml.Unmarshal([]byte(rest[:end]), &skill); err != nil {
		return nil, fmt.Errorf("invalid skill frontmatter: %w", err)
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("skill frontmatter missing name")
	}

	body := rest[end+4:]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	}
	skill.Instructions = strings.TrimSpace(body)
	return &skill, nil
}

// LoadSkills reads every skill under dir, keeping only those whose name is in
// enabled (an empty enabled list keeps them all). Unreadable or malformed
// skill files are logged and skipped so one bad skill cannot take down
// startup.
func LoadSkills(dir string, enabled []string) []Skill {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("skills: cannot read directory %s: %v", dir, err)
		return nil
	}

	allowed := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allowed[strings.TrimSpace(name)] = true
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), skillFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skill, err := ParseSkillFile(data)
		if err != nil {
			log.Printf("skills: skipping %s: %v", path, err)
			continue
		}
		if len(allowed) > 0 && !allowed[skill.Name] {
			continue
		}
		skills = append(skills, *skill)
	}
	return skills
}
