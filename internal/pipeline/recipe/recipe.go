// Package recipe inspects a Dockerfile before the build runs. The label
// directives in a recipe are declared independently of the argument-passing
// step; a renamed or missing argument silently becomes an empty label value
// unless validation catches it here.
package recipe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/samber/lo"
)

// ValidationMode controls how a label that references an unsupplied build
// argument is treated.
type ValidationMode string

const (
	// ValidationStrict fails the run before the build starts.
	ValidationStrict ValidationMode = "strict"
	// ValidationAllowEmpty keeps the reviewed recipe's behavior: the label
	// is silently emitted with an empty value.
	ValidationAllowEmpty ValidationMode = "allow-empty"
)

// Recipe is the parsed view of a Dockerfile that the pipeline cares about:
// which arguments exist, which labels consume them, what the runtime
// contract of the image looks like.
type Recipe struct {
	Args         []string            // declared ARG names, in order
	Labels       map[string][]string // label key -> referenced ARG names
	ExposedPorts []nat.Port
	FinalUser    string // last USER directive, empty if none
}

var argRefPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// ParseFile parses the Dockerfile at path.
func ParseFile(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a Dockerfile from r. Only the directives the pipeline
// inspects are extracted; everything else is left to the build toolchain.
func Parse(r io.Reader) (*Recipe, error) {
	rec := &Recipe{
		Labels: make(map[string][]string),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var logical string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Fold continuation lines into one logical directive.
		if strings.HasSuffix(line, "\\") {
			logical += strings.TrimSuffix(line, "\\") + " "
			continue
		}
		logical += line

		if err := rec.consume(logical); err != nil {
			return nil, err
		}
		logical = ""
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	return rec, nil
}

func (r *Recipe) consume(directive string) error {
	fields := strings.Fields(directive)
	if len(fields) < 2 {
		return nil
	}

	switch strings.ToUpper(fields[0]) {
	case "ARG":
		for _, decl := range fields[1:] {
			name, _, _ := strings.Cut(decl, "=")
			if !lo.Contains(r.Args, name) {
				r.Args = append(r.Args, name)
			}
		}

	case "LABEL":
		body := strings.TrimSpace(directive[len(fields[0]):])
		for _, pair := range splitPairs(body) {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			value = strings.Trim(value, `"`)
			var refs []string
			for _, m := range argRefPattern.FindAllStringSubmatch(value, -1) {
				refs = append(refs, m[1])
			}
			r.Labels[key] = refs
		}

	case "EXPOSE":
		for _, spec := range fields[1:] {
			port, err := nat.NewPort(nat.SplitProtoPort(spec))
			if err != nil {
				return fmt.Errorf("invalid EXPOSE directive %q: %w", spec, err)
			}
			r.ExposedPorts = append(r.ExposedPorts, port)
		}

	case "USER":
		r.FinalUser = fields[1]
	}

	return nil
}

// splitPairs splits a LABEL body into key=value tokens, keeping quoted
// values with embedded spaces intact.
func splitPairs(body string) []string {
	var pairs []string
	var cur strings.Builder
	inQuote := false
	for _, c := range body {
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteRune(c)
		case (c == ' ' || c == '\t') && !inQuote:
			if cur.Len() > 0 {
				pairs = append(pairs, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(c)
		}
	}
	if cur.Len() > 0 {
		pairs = append(pairs, cur.String())
	}
	return pairs
}

// ValidateArgs checks that every label's referenced argument was actually
// supplied. In strict mode a mismatch fails loudly instead of silently
// emitting empty metadata; in allow-empty mode the mismatches are returned
// for logging but do not fail the run.
func ValidateArgs(rec *Recipe, supplied map[string]string, mode ValidationMode) ([]string, error) {
	var missing []string
	for label, refs := range rec.Labels {
		for _, ref := range refs {
			if _, ok := supplied[ref]; !ok {
				missing = append(missing, fmt.Sprintf("%s (arg %s)", label, ref))
			}
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 && mode == ValidationStrict {
		return missing, fmt.Errorf("labels reference unsupplied build arguments: %s", strings.Join(missing, ", "))
	}
	return missing, nil
}

// CheckRuntimeContract verifies the recipe against what the deploy
// environment expects: the bot's service port is exposed and the final
// runtime user is not root.
func CheckRuntimeContract(rec *Recipe, servicePort nat.Port, requireUnprivileged bool) error {
	if !lo.Contains(rec.ExposedPorts, servicePort) {
		return fmt.Errorf("recipe does not expose service port %s", servicePort)
	}
	if requireUnprivileged {
		if rec.FinalUser == "" || rec.FinalUser == "root" || rec.FinalUser == "0" {
			return fmt.Errorf("recipe leaves the runtime user privileged (USER %q)", rec.FinalUser)
		}
	}
	return nil
}
