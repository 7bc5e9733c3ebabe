// Package i18n loads the YAML message catalogs and resolves dot-separated keys.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

const builtinDir = "locales"

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	// Tf renders a message with named params, e.g. {{.Points}}.
	Tf(key string, params map[string]any) string
	Lang() string
}

// message is one catalog entry. tmpl is set only for entries using template actions.
type message struct {
	text string
	tmpl *template.Template
}

// Manager stores all available translations.
type Manager struct {
	catalogs    map[string]map[string]message
	defaultLang string
}

// Load loads the catalogs compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(builtin, builtinDir, defaultLang)
}

// LoadFS loads every YAML file of dir in fsys. Each file maps a language
// code to a tree of messages; files may share a language.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}

	names, err := yamlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{catalogs: make(map[string]map[string]message), defaultLang: defaultLang}
	for _, name := range names {
		if err := m.loadFile(fsys, name); err != nil {
			return nil, err
		}
	}

	if len(m.catalogs[defaultLang]) == 0 {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}
	return m, nil
}

// Translator returns a translator for lang. Region tags fall back to their
// base language ("en-US" to "en"); unknown languages use the default.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}
	return translator{lang: m.resolve(lang), manager: m}
}

// Languages returns all loaded languages, sorted.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.catalogs))
}

// Missing lists keys present in the default language but absent in lang.
func (m *Manager) Missing(lang string) []string {
	var missing []string
	for key := range m.catalogs[m.defaultLang] {
		if _, ok := m.catalogs[lang][key]; !ok {
			missing = append(missing, key)
		}
	}
	slices.Sort(missing)
	return missing
}

func (m *Manager) resolve(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := m.catalogs[lang]; ok {
		return lang
	}
	if base, _, found := strings.Cut(lang, "-"); found {
		if _, ok := m.catalogs[base]; ok {
			return base
		}
	}
	return m.defaultLang
}

func (m *Manager) lookup(lang, key string) (message, bool) {
	if msg, ok := m.catalogs[lang][key]; ok {
		return msg, true
	}
	msg, ok := m.catalogs[m.defaultLang][key]
	return msg, ok
}

func (m *Manager) loadFile(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("i18n: read file %s: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse file %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("i18n: %s: top level must map languages to messages", name)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := strings.ToLower(strings.TrimSpace(root.Content[i].Value))
		if lang == "" {
			continue
		}
		if m.catalogs[lang] == nil {
			m.catalogs[lang] = make(map[string]message)
		}
		if err := collect(lang, "", root.Content[i+1], m.catalogs[lang]); err != nil {
			return fmt.Errorf("i18n: %s: %w", name, err)
		}
	}
	return nil
}

// collect walks a message tree, storing scalars under their dotted path.
func collect(lang, prefix string, node *yaml.Node, out map[string]message) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix == "" {
			return nil
		}
		msg := message{text: node.Value}
		if strings.Contains(node.Value, "{{") {
			tmpl, err := template.New(prefix).Option("missingkey=zero").Parse(node.Value)
			if err != nil {
				return fmt.Errorf("parse %s.%s: %w", lang, prefix, err)
			}
			msg.tmpl = tmpl
		}
		out[prefix] = msg
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := collect(lang, key, node.Content[i+1], out); err != nil {
				return err
			}
		}
	}
	return nil
}

func yamlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		ext := strings.ToLower(path.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, path.Join(dir, entry.Name()))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}
	return names, nil
}

type translator struct {
	lang    string
	manager *Manager
}

func (t translator) Lang() string {
	return t.lang
}

func (t translator) T(key string) string {
	return t.Tf(key, nil)
}

func (t translator) Tf(key string, params map[string]any) string {
	key = strings.TrimSpace(key)
	if key == "" || t.manager == nil {
		return key
	}

	msg, ok := t.manager.lookup(t.lang, key)
	if !ok {
		return key
	}
	if msg.tmpl == nil {
		return msg.text
	}

	var b strings.Builder
	if err := msg.tmpl.Execute(&b, params); err != nil {
		return msg.text
	}
	return b.String()
}
