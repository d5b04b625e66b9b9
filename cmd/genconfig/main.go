// Package main implements the genconfig tool that regenerates
// config.default.toml from config.ExampleConfig() and [config.ConfigDocs].
//
// It is invoked by go generate via the directive in internal/config/config.go.
package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"warden/internal/config"
)

// outPath is relative to internal/config/, where go generate runs. With
// go.mod at root, ../../ reaches the repo root where configdata.go embeds
// the generated file — single source of truth.
const outPath = "../../config.default.toml"

func main() {
	doc, err := render(config.ExampleConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, doc, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Println("wrote config.default.toml")
}

// render encodes cfg to TOML and weaves in the comments, alternative values,
// and omitted optional keys from [config.ConfigDocs].
func render(cfg *config.Config) ([]byte, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(cfg); err != nil {
		return nil, err
	}

	out := []string{
		"# ///////////////////////////////////////////////",
		"# Warden Configuration",
		"# ///////////////////////////////////////////////",
		"",
	}

	// section is the dotted path of the open TOML table, "" at top level.
	section := ""
	emitted := map[string]bool{}

	for _, line := range strings.Split(raw.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			// The encoder's spacing and indentation are discarded; spacing
			// is re-managed around the injected comments.
			continue
		}

		if strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "[[") {
			// Optional keys the encoder dropped still belong to the table
			// being closed.
			out = flushOmitted(out, section, emitted)

			section = strings.Trim(line, "[] ")
			out = append(out, "", fmt.Sprintf("# ///// %s /////", sectionTitle(section)), "")
			if d, ok := config.ConfigDocs[section]; ok && d.Comment != "" {
				out = appendComment(out, d.Comment)
			}
			out = append(out, line)
			continue
		}

		if strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			out = append(out, line)
			continue
		}

		key := strings.TrimSpace(line[:strings.Index(line, "=")])
		path := key
		if section != "" {
			path = section + "." + key
		}
		emitted[path] = true

		d, ok := config.ConfigDocs[path]
		if !ok {
			out = append(out, line)
			continue
		}
		if d.Comment != "" {
			out = appendComment(out, d.Comment)
		}
		out = append(out, line)
		for _, alt := range d.Alternatives {
			out = append(out, "# "+alt)
		}
	}
	out = flushOmitted(out, section, emitted)

	doc := strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
	return []byte(doc), nil
}

// flushOmitted appends commented-out entries for documented keys of section
// that the encoder never produced, which happens when an omitempty field
// holds its zero value. Every documented option appears in the generated
// file either live or commented out. Keys are sorted for deterministic
// output.
func flushOmitted(out []string, section string, emitted map[string]bool) []string {
	if section == "" {
		return out
	}
	prefix := section + "."

	var missing []string
	for path := range config.ConfigDocs {
		rest, found := strings.CutPrefix(path, prefix)
		if !found || strings.Contains(rest, ".") || emitted[path] {
			continue
		}
		missing = append(missing, path)
	}
	sort.Strings(missing)

	for _, path := range missing {
		d := config.ConfigDocs[path]
		out = append(out, "")
		if d.Comment != "" {
			out = appendComment(out, d.Comment)
		}
		for _, alt := range d.Alternatives {
			out = append(out, "# "+alt)
		}
		emitted[path] = true
	}
	return out
}

// appendComment appends text as "# "-prefixed lines, one per input line.
func appendComment(out []string, text string) []string {
	for _, l := range strings.Split(text, "\n") {
		out = append(out, "# "+l)
	}
	return out
}

// sectionTitle capitalizes the last dotted segment of a table path, so
// "worker" yields "Worker".
func sectionTitle(section string) string {
	if i := strings.LastIndexByte(section, '.'); i >= 0 {
		section = section[i+1:]
	}
	if section == "" {
		return ""
	}
	return strings.ToUpper(section[:1]) + section[1:]
}
