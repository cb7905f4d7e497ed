package duolingo

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Marker is a DOM feature the watcher looks for.
type Marker int

const (
	UntimedButton Marker = iota
	NextButtonVisible
	WrongBadge
	CorrectBadge
	EndCarousel
)

func (m Marker) String() string {
	switch m {
	case UntimedButton:
		return "untimed-button"
	case NextButtonVisible:
		return "next-button-visible"
	case WrongBadge:
		return "badge-wrong"
	case CorrectBadge:
		return "badge-correct"
	case EndCarousel:
		return "end-carousel"
	default:
		return fmt.Sprintf("Marker(%d)", int(m))
	}
}

// Snapshot is a Page captured at one point in time.
type Snapshot struct {
	path    string
	markers map[Marker]bool
}

// NewSnapshot builds a snapshot from a path and the markers present on it.
func NewSnapshot(path string, markers ...Marker) *Snapshot {
	s := &Snapshot{path: path, markers: make(map[Marker]bool, len(markers))}
	for _, m := range markers {
		s.markers[m] = true
	}
	return s
}

// Path returns the URL path of the page.
func (s *Snapshot) Path() string { return s.path }

// Has reports whether m was present.
func (s *Snapshot) Has(m Marker) bool { return s.markers[m] }

// Markers lists the markers present, in Marker order.
func (s *Snapshot) Markers() []Marker {
	var out []Marker
	for m := UntimedButton; m <= EndCarousel; m++ {
		if s.markers[m] {
			out = append(out, m)
		}
	}
	return out
}

// ParseSnapshot reads an HTML document captured at rawURL.
func ParseSnapshot(rawURL string, r io.Reader) (*Snapshot, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("invalid page html: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	s := NewSnapshot(path)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch attr(n, "id") {
			case "untimed-button":
				s.markers[UntimedButton] = true
			case "next_button":
				if visible(n) {
					s.markers[NextButtonVisible] = true
				}
			case "end-carousel":
				s.markers[EndCarousel] = true
			}
			if hasClass(n, "badge-wrong-big") {
				s.markers[WrongBadge] = true
			}
			if hasClass(n, "badge-correct-big") {
				s.markers[CorrectBadge] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return s, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// visible reports whether neither n nor any ancestor is hidden.
func visible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if hasAttr(n, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
