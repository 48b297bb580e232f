package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCategories é o catálogo usado quando CATEGORIES_FILE não é informado.
var DefaultCategories = []string{
	"Plumbing",
	"Electrical",
	"HVAC",
	"Carpentry",
	"Appliance",
	"Pest Control",
	"General",
}

type categoriesFile struct {
	Categories []string `yaml:"categories"`
}

// LoadCategories lê o catálogo de especialidades de um arquivo YAML.
func LoadCategories(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return append([]string(nil), DefaultCategories...), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("categorias: %w", err)
	}
	return ParseCategories(raw)
}

// ParseCategories interpreta o YAML do catálogo e remove duplicados.
func ParseCategories(raw []byte) ([]string, error) {
	var file categoriesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("categorias: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Categories))
	out := make([]string, 0, len(file.Categories))
	for _, c := range file.Categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("categorias: catálogo vazio")
	}
	return out, nil
}
