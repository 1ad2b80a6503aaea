package interaction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Page-side expressions. Each is a named IIFE so it shows up by name in
// DevTools traces. They only report facts; every decision is made in Go.

const scrollScript = `(function scrollPage(y) {
	window.scrollTo(0, y);
	return true;
})(%s)`

const inspectControlScript = `(function inspectControl(selector, label) {
	const el = document.querySelector(selector);
	if (!el) {
		return { present: false };
	}
	const text = (el.textContent || '').trim();
	return {
		present: true,
		text_match: text.includes(label),
		visible: el.offsetParent !== null,
		outer_html: el.outerHTML.substring(0, 300)
	};
})(%s, %s)`

const clickControlScript = `(function clickControl(selector, label) {
	const el = document.querySelector(selector);
	if (!el || !(el.textContent || '').trim().includes(label)) {
		return { clicked: false };
	}
	el.click();
	return { clicked: true, visible_after_click: el.offsetParent !== null };
})(%s, %s)`

const scanResourcesScript = `(function scanResources(selector, container, marker, label) {
	return Array.from(document.querySelectorAll(selector)).map(function (el) {
		const m = marker ? el.querySelector(marker) : null;
		return {
			href: el.href || '',
			visible: el.offsetParent !== null,
			inside_control: container !== '' && el.closest(container) !== null,
			marked: !!(m && (m.textContent || '').includes(label)),
			outer_html: el.outerHTML.substring(0, 300)
		};
	});
})(%s, %s, %s, %s)`

// Script names, usable to recognise an expression in traces and fakes
const (
	ScriptScroll         = "scrollPage"
	ScriptInspectControl = "inspectControl"
	ScriptClickControl   = "clickControl"
	ScriptScanResources  = "scanResources"
)

// IsScript reports whether expression was built from the named script
func IsScript(expression, name string) bool {
	return strings.HasPrefix(expression, "(function "+name+"(")
}

func buildScroll(y int) string {
	return fmt.Sprintf(scrollScript, jsArg(y))
}

func buildInspectControl(selector, label string) string {
	return fmt.Sprintf(inspectControlScript, jsArg(selector), jsArg(label))
}

func buildClickControl(selector, label string) string {
	return fmt.Sprintf(clickControlScript, jsArg(selector), jsArg(label))
}

func buildScanResources(selector, container, marker, label string) string {
	return fmt.Sprintf(scanResourcesScript, jsArg(selector), jsArg(container), jsArg(marker), jsArg(label))
}

// jsArg encodes v as a JavaScript literal
func jsArg(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
