package docbook

import (
	"strings"

	"github.com/beevik/etree"
)

// elementText concatenates all character data below el and normalizes
// whitespace to single spaces.
func elementText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	var sb strings.Builder
	writeText(&sb, el)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func writeText(sb *strings.Builder, el *etree.Element) {
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			sb.WriteByte(' ')
			writeText(sb, t)
			sb.WriteByte(' ')
		}
	}
}

// titleOf returns the normalized title of a chapter or section. DocBook 5
// allows the title either directly or inside <info>.
func titleOf(el *etree.Element) string {
	if t := firstChild(el, "title"); t != nil {
		return elementText(t)
	}
	if info := firstChild(el, "info"); info != nil {
		return elementText(firstChild(info, "title"))
	}
	return ""
}

// bookmarkOf returns the xml:id anchor of el.
func bookmarkOf(el *etree.Element) string {
	return el.SelectAttrValue("xml:id", "")
}

func firstChild(el *etree.Element, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func children(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// descendants returns every element below el with the given tag in document order.
// el itself is not included.
func descendants(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, c := range e.ChildElements() {
			if c.Tag == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(el)
	return out
}
