package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"text/template"

	"github.com/skeinlabs/skein/internal/story"
)

//go:embed templates
var templatesFS embed.FS

// SynthesisKey is the key prefix for the synthesis prompt pair.
const SynthesisKey = "synthesis"

var (
	embedded  = make(map[string]EmbeddedPrompt)
	templates = make(map[string]*template.Template)
)

func init() {
	for _, kind := range story.Kinds() {
		mustLoad("extract."+string(kind), string(kind))
	}
	mustLoad(SynthesisKey, "synthesis")
}

// mustLoad reads the system/user template pair from templates/<dir> and
// registers both under <keyPrefix>.system and <keyPrefix>.user.
func mustLoad(keyPrefix, dir string) {
	for _, role := range []string{"system", "user"} {
		path := fmt.Sprintf("templates/%s/%s.tmpl", dir, role)
		raw, err := templatesFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("prompts: missing embedded template %s: %v", path, err))
		}
		key := keyPrefix + "." + role
		text := string(raw)
		embedded[key] = EmbeddedPrompt{
			Key:       key,
			Text:      text,
			Variables: ExtractVariables(text),
			Hash:      HashText(text),
		}
		templates[key] = template.Must(template.New(key).Parse(text))
	}
}

// ExtractionKey returns the key prefix for a kind's prompt pair.
func ExtractionKey(kind story.Kind) string {
	return "extract." + string(kind)
}

// Get returns the embedded prompt for a key.
func Get(key string) (EmbeddedPrompt, bool) {
	p, ok := embedded[key]
	return p, ok
}

// All returns every embedded prompt, sorted by key.
func All() []EmbeddedPrompt {
	result := make([]EmbeddedPrompt, 0, len(embedded))
	for _, p := range embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// RenderExtraction renders the system and user prompts for one extraction
// kind against the chapter data.
func RenderExtraction(kind story.Kind, data ExtractionData) (system, user string, err error) {
	system, err = render(ExtractionKey(kind)+".system", data)
	if err != nil {
		return "", "", err
	}
	user, err = render(ExtractionKey(kind)+".user", data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

// RenderSynthesis renders the synthesis system and user prompts against the
// four validated extraction payloads.
func RenderSynthesis(data SynthesisData) (system, user string, err error) {
	system, err = render(SynthesisKey+".system", data)
	if err != nil {
		return "", "", err
	}
	user, err = render(SynthesisKey+".user", data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func render(key string, data any) (string, error) {
	tmpl, ok := templates[key]
	if !ok {
		return "", fmt.Errorf("unknown prompt key: %s", key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return buf.String(), nil
}
