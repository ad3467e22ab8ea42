package static

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

func (v *View) Find(by engine.By, value string) ([]models.Element, error) {
	sel, err := locate(v.current().dom.Selection, by, value)
	if err != nil {
		return nil, err
	}
	return elements(sel), nil
}

// locate resolves a WebDriver locator against root.
func locate(root *goquery.Selection, by engine.By, value string) (*goquery.Selection, error) {
	switch by {
	case engine.ByCSS:
		if _, err := cascadia.Compile(value); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidSelector, err)
		}
		return root.Find(value), nil
	case engine.ByID:
		return withAttr(root, "id", func(v string) bool { return v == value }), nil
	case engine.ByName:
		return withAttr(root, "name", func(v string) bool { return v == value }), nil
	case engine.ByClassName:
		if strings.ContainsAny(strings.TrimSpace(value), " \t\n") {
			return nil, fmt.Errorf("%w: compound class names are not permitted", engine.ErrInvalidSelector)
		}
		return withAttr(root, "class", func(v string) bool {
			for _, class := range strings.Fields(v) {
				if class == value {
					return true
				}
			}
			return false
		}), nil
	case engine.ByTagName:
		tag := strings.ToLower(value)
		return root.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return goquery.NodeName(s) == tag
		}), nil
	case engine.ByLinkText:
		return links(root, func(text string) bool { return text == value }), nil
	case engine.ByPartialLinkText:
		return links(root, func(text string) bool { return strings.Contains(text, value) }), nil
	case engine.ByXPath:
		return nil, fmt.Errorf("%w: xpath lookups", engine.ErrUnsupported)
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", engine.ErrInvalidSelector, by)
}

func withAttr(root *goquery.Selection, attr string, match func(string) bool) *goquery.Selection {
	return root.Find("[" + attr + "]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(attr)
		return match(v)
	})
}

func links(root *goquery.Selection, match func(string) bool) *goquery.Selection {
	return root.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return match(collapse(s.Text()))
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func elements(sel *goquery.Selection) []models.Element {
	out := make([]models.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element(s))
	})
	return out
}

func element(s *goquery.Selection) models.Element {
	el := models.Element{
		Tag:  goquery.NodeName(s),
		Text: collapse(s.Text()),
	}
	if node := s.Get(0); node != nil && len(node.Attr) > 0 {
		el.Attributes = make(map[string]string, len(node.Attr))
		for _, a := range node.Attr {
			el.Attributes[a.Key] = a.Val
		}
	}
	el.OuterHTML, _ = goquery.OuterHtml(s)
	return el
}
