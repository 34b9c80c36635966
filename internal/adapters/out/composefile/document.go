// Package composefile reads and rewrites compose manifests without
// disturbing their formatting.
package composefile

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/bnema/pinup/internal/domain"
)

const maxMergeDepth = 8

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is a parsed compose manifest. Image values are rewritten in place
// in the original bytes, so comments, quoting, key order and whitespace are
// untouched. Only scalars whose source span cannot be located (block or
// tagged scalars) force a full re-encode.
type Document struct {
	src        []byte
	lineStarts []int
	root       yaml.Node
	services   *yaml.Node
	edits      map[*yaml.Node]*edit
	reencode   bool
}

type edit struct {
	start  int
	end    int
	before string
	text   string
	after  string
}

// Parse reads a manifest. It fails with domain.ErrManifestStructure when the
// document has no services mapping.
func Parse(data []byte) (*Document, error) {
	d := &Document{
		src:   data,
		edits: make(map[*yaml.Node]*edit),
	}

	if err := yaml.Unmarshal(data, &d.root); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestStructure, err)
	}
	if d.root.Kind != yaml.DocumentNode || len(d.root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrManifestStructure)
	}

	top := resolveAlias(d.root.Content[0])
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", domain.ErrManifestStructure)
	}

	services := lookup(top, "services")
	if services == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrManifestStructure, domain.ErrNoServices)
	}
	services = resolveAlias(services)
	if services.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: services is not a mapping", domain.ErrManifestStructure)
	}
	d.services = services

	d.lineStarts = []int{0}
	for i, b := range data {
		if b == '\n' {
			d.lineStarts = append(d.lineStarts, i+1)
		}
	}

	return d, nil
}

// Services returns each service with its image in file order. Images
// inherited through merge keys are reported too. Services whose image
// SetImage cannot rewrite carry the reason in Locked.
func (d *Document) Services() []domain.ServiceImage {
	services := make([]domain.ServiceImage, 0, len(d.services.Content)/2)
	for i := 0; i+1 < len(d.services.Content); i += 2 {
		svc := domain.ServiceImage{Service: d.services.Content[i].Value}
		value := d.services.Content[i+1]
		if node := findImage(resolveAlias(value), 0); node != nil && node.Kind == yaml.ScalarNode && node.Tag != "!!null" {
			svc.Image = node.Value
			if _, reason := d.slot(svc.Service, value); reason != "" {
				svc.Locked = reason
			}
		}
		services = append(services, svc)
	}
	return services
}

// imageSlot is where a service's own image value lives. index is the
// position of the value in mapping.Content, or -1 when the image is only
// inherited through a merge key.
type imageSlot struct {
	mapping *yaml.Node
	index   int
}

// slot finds the rewritable image of a service, or the reason it has none.
func (d *Document) slot(service string, value *yaml.Node) (imageSlot, string) {
	if value.Kind != yaml.MappingNode {
		return imageSlot{}, fmt.Sprintf("service %s is an alias of another mapping", service)
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "image" {
			continue
		}
		if node := resolveAlias(value.Content[i+1]); node == nil || node.Kind != yaml.ScalarNode {
			return imageSlot{}, fmt.Sprintf("image of %s is not a scalar", service)
		}
		return imageSlot{mapping: value, index: i + 1}, ""
	}

	inherited := findImage(value, 0)
	switch {
	case inherited == nil:
		return imageSlot{}, fmt.Sprintf("service %s has no image field", service)
	case inherited.Kind != yaml.ScalarNode:
		return imageSlot{}, fmt.Sprintf("image of %s is not a scalar", service)
	}
	return imageSlot{mapping: value, index: -1}, ""
}

// SetImage rewrites the image of service. An image used through an alias is
// replaced by a plain value and an image inherited through a merge key gets
// an own image key in front of the merge, so the anchor itself is left alone.
// An anchored image is rewritten in place and every alias of it follows.
// Services that are an alias of a whole mapping, or whose image is not a
// scalar, are refused with domain.ErrImageNotEditable.
func (d *Document) SetImage(service, image string) error {
	value := lookup(d.services, service)
	if value == nil {
		return fmt.Errorf("%w: %s", domain.ErrServiceNotFound, service)
	}

	slot, reason := d.slot(service, value)
	if reason != "" {
		return fmt.Errorf("%w: %s", domain.ErrImageNotEditable, reason)
	}

	if slot.index < 0 {
		if inherited := findImage(value, 0); inherited.Value == image {
			return nil
		}
		return d.insertImage(slot.mapping, image)
	}

	node := slot.mapping.Content[slot.index]
	if node.Kind == yaml.AliasNode {
		if resolveAlias(node).Value == image {
			return nil
		}
		return d.replaceAlias(slot, image)
	}
	return d.setScalar(node, image)
}

func (d *Document) setScalar(node *yaml.Node, image string) error {
	if node.Value == image {
		return nil
	}

	e, ok := d.edits[node]
	if !ok && !d.reencode {
		if start, end, located := d.span(node); located {
			e = &edit{start: start, end: end}
			d.edits[node] = e
		}
	}

	if e != nil {
		text, ok := renderScalar(node.Style, image)
		if !ok {
			return fmt.Errorf("%w: cannot render %q", domain.ErrImageNotEditable, image)
		}
		e.text = text
	} else {
		d.reencode = true
		node.Style = 0
	}

	node.Value = image
	return nil
}

// insertImage adds an image key as the first entry of mapping.
func (d *Document) insertImage(mapping *yaml.Node, image string) error {
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "image"}
	value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: image}

	if !d.reencode {
		if e, ok := d.insertion(mapping); ok {
			e.text, _ = renderScalar(0, image)
			d.edits[value] = e
		} else {
			d.reencode = true
		}
	}

	mapping.Content = append([]*yaml.Node{key, value}, mapping.Content...)
	return nil
}

// insertion builds an empty edit in front of the first key of mapping.
func (d *Document) insertion(mapping *yaml.Node) (*edit, bool) {
	first := mapping.Content[0]
	start, ok := d.offset(first.Line, first.Column)
	if !ok {
		return nil, false
	}

	if mapping.Style&yaml.FlowStyle != 0 {
		return &edit{start: start, end: start, before: "image: ", after: ", "}, true
	}

	lineStart := d.lineStarts[first.Line-1]
	if first.Line == 1 && bytes.HasPrefix(d.src, utf8BOM) {
		lineStart += len(utf8BOM)
	}
	indent := d.src[lineStart:start]
	if len(bytes.Trim(indent, " ")) != 0 {
		return nil, false
	}

	newline := "\n"
	if eol := bytes.IndexByte(d.src[start:], '\n'); eol > 0 && d.src[start+eol-1] == '\r' {
		newline = "\r\n"
	}
	return &edit{start: start, end: start, before: "image: ", after: newline + string(indent)}, true
}

// replaceAlias swaps an aliased image for a plain scalar.
func (d *Document) replaceAlias(slot imageSlot, image string) error {
	alias := slot.mapping.Content[slot.index]
	value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: image}

	if !d.reencode {
		start, ok := d.offset(alias.Line, alias.Column)
		name := "*" + alias.Value
		if ok && bytes.HasPrefix(d.src[start:], []byte(name)) {
			text, _ := renderScalar(0, image)
			d.edits[value] = &edit{start: start, end: start + len(name), text: text}
		} else {
			d.reencode = true
		}
	}

	slot.mapping.Content[slot.index] = value
	return nil
}

// Changed reports whether the rendered document differs from the parsed bytes.
func (d *Document) Changed() bool {
	out, err := d.Bytes()
	if err != nil {
		return true
	}
	return !bytes.Equal(out, d.src)
}

// Bytes renders the document with every rewrite applied.
func (d *Document) Bytes() ([]byte, error) {
	if d.reencode {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&d.root); err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		return buf.Bytes(), nil
	}

	edits := make([]*edit, 0, len(d.edits))
	for _, e := range d.edits {
		edits = append(edits, e)
	}
	slices.SortFunc(edits, func(a, b *edit) int { return a.start - b.start })

	var buf bytes.Buffer
	buf.Grow(len(d.src))
	prev := 0
	for _, e := range edits {
		buf.Write(d.src[prev:e.start])
		buf.WriteString(e.before)
		buf.WriteString(e.text)
		buf.WriteString(e.after)
		prev = e.end
	}
	buf.Write(d.src[prev:])
	return buf.Bytes(), nil
}

// span locates the source bytes of a flow scalar: the quotes included for
// quoted styles, the bare text for plain ones.
func (d *Document) span(node *yaml.Node) (int, int, bool) {
	start, ok := d.offset(node.Line, node.Column)
	if !ok || start >= len(d.src) {
		return 0, 0, false
	}
	if node.Anchor != "" {
		anchor := "&" + node.Anchor
		if !bytes.HasPrefix(d.src[start:], []byte(anchor)) {
			return 0, 0, false
		}
		start += len(anchor)
		for start < len(d.src) && (d.src[start] == ' ' || d.src[start] == '\t') {
			start++
		}
		if start >= len(d.src) {
			return 0, 0, false
		}
	}

	switch node.Style {
	case yaml.DoubleQuotedStyle:
		if d.src[start] != '"' {
			return 0, 0, false
		}
		for i := start + 1; i < len(d.src); i++ {
			switch d.src[i] {
			case '\\':
				i++
			case '"':
				return start, i + 1, true
			}
		}
	case yaml.SingleQuotedStyle:
		if d.src[start] != '\'' {
			return 0, 0, false
		}
		for i := start + 1; i < len(d.src); i++ {
			if d.src[i] != '\'' {
				continue
			}
			if i+1 < len(d.src) && d.src[i+1] == '\'' {
				i++
				continue
			}
			return start, i + 1, true
		}
	case 0:
		if bytes.HasPrefix(d.src[start:], []byte(node.Value)) {
			return start, start + len(node.Value), true
		}
	}
	return 0, 0, false
}

// offset converts a 1-based line and rune column into a byte offset.
func (d *Document) offset(line, column int) (int, bool) {
	if line < 1 || line > len(d.lineStarts) || column < 1 {
		return 0, false
	}
	off := d.lineStarts[line-1]
	if line == 1 && bytes.HasPrefix(d.src, utf8BOM) {
		off += len(utf8BOM)
	}
	for c := 1; c < column; c++ {
		if off >= len(d.src) || d.src[off] == '\n' {
			return 0, false
		}
		_, size := utf8.DecodeRune(d.src[off:])
		off += size
	}
	return off, true
}

// renderScalar renders value in style. Plain values that would not read
// back as the same plain string are double quoted instead.
func renderScalar(style yaml.Style, value string) (string, bool) {
	switch style {
	case yaml.DoubleQuotedStyle:
		return strconv.Quote(value), true
	case yaml.SingleQuotedStyle:
		if strings.ContainsAny(value, "\n\r") {
			return "", false
		}
		return "'" + strings.ReplaceAll(value, "'", "''") + "'", true
	case 0:
		if plainSafe(value) {
			return value, true
		}
		return strconv.Quote(value), true
	}
	return "", false
}

func plainSafe(value string) bool {
	if value == "" || strings.TrimSpace(value) != value {
		return false
	}
	if strings.ContainsAny(value[:1], "-?:,[]{}#&*!|>'\"%@`") {
		return false
	}
	if strings.ContainsAny(value, ",[]{}\n\r\t") {
		return false
	}
	return !strings.Contains(value, ": ") && !strings.Contains(value, " #") && !strings.HasSuffix(value, ":")
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for depth := 0; node != nil && node.Kind == yaml.AliasNode && depth < maxMergeDepth; depth++ {
		node = node.Alias
	}
	return node
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// findImage returns the image scalar of a service mapping, following merge keys.
func findImage(mapping *yaml.Node, depth int) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode || depth > maxMergeDepth {
		return nil
	}
	if node := lookup(mapping, "image"); node != nil {
		return resolveAlias(node)
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != "<<" {
			continue
		}
		merged := resolveAlias(mapping.Content[i+1])
		candidates := []*yaml.Node{merged}
		if merged.Kind == yaml.SequenceNode {
			candidates = merged.Content
		}
		for _, c := range candidates {
			if node := findImage(resolveAlias(c), depth+1); node != nil {
				return node
			}
		}
	}
	return nil
}
