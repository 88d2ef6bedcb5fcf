// Package pages renders the static legal and informational pages from
// embedded Liquid templates.
package pages

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/ledgerline/site/internal/config"
)

//go:embed templates/*.liquid
var templateFS embed.FS

var titles = map[string]string{
	"privacy": "Privacy Policy",
	"terms":   "Terms of Service",
	"about":   "About",
}

// Renderer holds the parsed templates and site bindings.
type Renderer struct {
	layout   *liquid.Template
	pages    map[string]*liquid.Template
	bindings liquid.Bindings
}

// NewRenderer parses every page template.
func NewRenderer(site config.SiteConfig) (*Renderer, error) {
	engine := liquid.NewEngine()

	parse := func(name string) (*liquid.Template, error) {
		src, err := templateFS.ReadFile("templates/" + name + ".liquid")
		if err != nil {
			return nil, err
		}
		tpl, perr := engine.ParseTemplate(src)
		if perr != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, perr)
		}
		return tpl, nil
	}

	layout, err := parse("layout")
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		layout: layout,
		pages:  make(map[string]*liquid.Template, len(titles)),
		bindings: liquid.Bindings{
			"company_name":  site.CompanyName,
			"contact_email": site.ContactEmail,
			"legal_updated": site.LegalUpdated,
			"year":          time.Now().Year(),
		},
	}
	for name := range titles {
		if r.pages[name], err = parse(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Names lists the renderable pages.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.pages))
	for name := range r.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render returns the full HTML for a page.
func (r *Renderer) Render(name string) ([]byte, error) {
	tpl, ok := r.pages[name]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", name)
	}

	body, serr := tpl.Render(r.bindings)
	if serr != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, serr)
	}

	bindings := make(liquid.Bindings, len(r.bindings)+2)
	for k, v := range r.bindings {
		bindings[k] = v
	}
	bindings["title"] = titles[name]
	bindings["content"] = strings.TrimSpace(string(body))

	out, serr := r.layout.Render(bindings)
	if serr != nil {
		return nil, fmt.Errorf("rendering layout: %w", serr)
	}
	return out, nil
}
