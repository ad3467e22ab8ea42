package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zj793039327/jBrowserDriver/internal/engine"
	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const invalidSelectorMarker = "jbd:invalid-selector"

// finderScript resolves a locator in the page and snapshots the matches.
const finderScript = `
var by = arguments[0], value = arguments[1], found = [];
function invalid(msg) { throw new Error("` + invalidSelectorMarker + `: " + msg); }
function collapse(s) { return (s || "").replace(/\s+/g, " ").trim(); }
try {
	switch (by) {
	case "css selector":
		found = Array.prototype.slice.call(document.querySelectorAll(value));
		break;
	case "id":
		found = Array.prototype.filter.call(document.querySelectorAll("[id]"), function(e) { return e.id === value; });
		break;
	case "name":
		found = Array.prototype.slice.call(document.getElementsByName(value));
		break;
	case "class name":
		if (/\s/.test(value.trim())) invalid("compound class names are not permitted");
		found = Array.prototype.slice.call(document.getElementsByClassName(value));
		break;
	case "tag name":
		found = Array.prototype.slice.call(document.getElementsByTagName(value));
		break;
	case "link text":
	case "partial link text":
		found = Array.prototype.filter.call(document.getElementsByTagName("a"), function(e) {
			var text = collapse(e.textContent);
			return by === "link text" ? text === value : text.indexOf(value) >= 0;
		});
		break;
	case "xpath":
		var snap = document.evaluate(value, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (var i = 0; i < snap.snapshotLength; i++) {
			if (snap.snapshotItem(i).nodeType === 1) found.push(snap.snapshotItem(i));
		}
		break;
	default:
		invalid("unknown strategy " + by);
	}
} catch (e) {
	if (e instanceof DOMException || e instanceof SyntaxError) invalid(e.message);
	throw e;
}
return found.map(function(e) {
	var attrs = {};
	for (var i = 0; i < e.attributes.length; i++) attrs[e.attributes[i].name] = e.attributes[i].value;
	return {tag: e.tagName.toLowerCase(), text: collapse(e.textContent), attributes: attrs, outerHTML: e.outerHTML};
});
`

func (v *View) Find(by engine.By, value string) ([]models.Element, error) {
	res, err := v.Evaluate(finderScript, []any{string(by), value}, false, v.eng.timeout)
	if err != nil {
		msg := err.Error()
		if i := strings.Index(msg, invalidSelectorMarker); i >= 0 && errors.Is(err, engine.ErrScript) {
			reason, _, _ := strings.Cut(strings.TrimPrefix(msg[i+len(invalidSelectorMarker):], ": "), "\n")
			return nil, fmt.Errorf("%w: %s", engine.ErrInvalidSelector, reason)
		}
		return nil, err
	}
	return decodeElements(res)
}

func decodeElements(res any) ([]models.Element, error) {
	buf, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out []models.Element
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	if out == nil {
		out = []models.Element{}
	}
	return out, nil
}
