// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// xmlToJSON converts an application/xml response body into the deterministic
// JSON shape described in spec §4.1 and §4.11: element -> object,
// attributes prefixed with "@", repeated siblings -> array.
func xmlToJSON(raw []byte) (any, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(raw)))
	var root *xmlNode
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		if start, ok := tok.(xml.StartElement); ok {
			node, err := decodeXMLElement(decoder, start)
			if err != nil {
				return nil, err
			}
			root = node
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no root element found in xml body")
	}
	return map[string]any{root.name: root.toJSON()}, nil
}

type xmlNode struct {
	name     string
	attrs    map[string]string
	text     string
	children []*xmlNode
}

func decodeXMLElement(decoder *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	node := &xmlNode{name: start.Name.Local, attrs: make(map[string]string)}
	for _, attr := range start.Attr {
		node.attrs[attr.Name.Local] = attr.Value
	}
	for {
		tok, err := decoder.Token()
		if err != nil {
			return node, nil
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(decoder, t)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		case xml.CharData:
			node.text += string(t)
		case xml.EndElement:
			return node, nil
		}
	}
}

// toJSON renders the node per the element->object, @attr-prefixed,
// repeated-siblings->array rule.
func (n *xmlNode) toJSON() any {
	if len(n.children) == 0 && len(n.attrs) == 0 {
		return strings.TrimSpace(n.text)
	}

	obj := make(map[string]any, len(n.attrs)+len(n.children))
	for k, v := range n.attrs {
		obj["@"+k] = v
	}

	grouped := make(map[string][]any)
	order := make([]string, 0, len(n.children))
	for _, child := range n.children {
		if _, seen := grouped[child.name]; !seen {
			order = append(order, child.name)
		}
		grouped[child.name] = append(grouped[child.name], child.toJSON())
	}
	for _, name := range order {
		values := grouped[name]
		if len(values) == 1 {
			obj[name] = values[0]
		} else {
			obj[name] = values
		}
	}

	if len(n.children) == 0 {
		text := strings.TrimSpace(n.text)
		if text != "" {
			obj["#text"] = text
		}
	}
	return obj
}
