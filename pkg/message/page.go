package message

import "net/url"

// PageDefaults are the page fields guaranteed in every envelope's
// context.page.
type PageDefaults struct {
	URL      string `yaml:"url" json:"url" env:"URL"`
	Path     string `yaml:"path" json:"path" env:"PATH"`
	Title    string `yaml:"title" json:"title" env:"TITLE"`
	Referrer string `yaml:"referrer" json:"referrer" env:"REFERRER"`
	Search   string `yaml:"search" json:"search" env:"SEARCH"`
}

// PageKeys lists the keys of PageDefaults.Map.
var PageKeys = []string{"path", "referrer", "search", "title", "url"}

// Map returns the defaults keyed by their context.page names.
func (p PageDefaults) Map() map[string]any {
	return map[string]any{
		"path":     p.Path,
		"referrer": p.Referrer,
		"search":   p.Search,
		"title":    p.Title,
		"url":      p.URL,
	}
}

// PageDefaultsFromURL derives path and search from rawURL. The fragment is
// stripped from the url field; an unparsable url is kept verbatim with an
// empty path.
func PageDefaultsFromURL(rawURL, title, referrer string) PageDefaults {
	p := PageDefaults{URL: rawURL, Title: title, Referrer: referrer}
	u, err := url.Parse(rawURL)
	if err != nil {
		return p
	}
	u.Fragment = ""
	u.RawFragment = ""
	p.URL = u.String()
	p.Path = u.Path
	if p.Path == "" && u.Host != "" {
		p.Path = "/"
	}
	if u.RawQuery != "" {
		p.Search = "?" + u.RawQuery
	}
	return p
}
