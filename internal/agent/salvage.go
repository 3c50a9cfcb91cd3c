package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/arula-run/arula/pkg/models"
	"github.com/tidwall/gjson"
)

// Some models never emit a structured tool call and instead write one as
// XML-ish markup inside their reasoning text. SalvageToolCall recovers the
// call from that text. Two shapes are recognized:
//
//	<tool_call name="X"><arguments>{...json...}</arguments></tool_call>
//	<tool_call>X<arg_key>k</arg_key><arg_value>v</arg_value>...</tool_call>
//
// The payloads are not well-formed XML (bare text children, unescaped JSON
// braces), so this is a tolerant hand scanner rather than encoding/xml:
// malformed blocks are skipped, and when several complete blocks are
// present the last one wins.
func SalvageToolCall(reasoning string) (models.ToolCall, bool) {
	var (
		found models.ToolCall
		ok    bool
	)
	rest := reasoning
	for {
		start := strings.Index(rest, "<tool_call")
		if start < 0 {
			break
		}
		block := rest[start:]
		call, end, parsed := parseSalvageBlock(block)
		if parsed {
			found = call
			ok = true
		}
		if end <= 0 {
			// No closing tag; nothing after this point can be complete.
			break
		}
		rest = block[end:]
	}
	if !ok {
		return models.ToolCall{}, false
	}
	found.ID = fmt.Sprintf("call_xml_%d", nextSalvageID())
	return found, true
}

var salvageCounter atomic.Uint64

func nextSalvageID() uint64 {
	return salvageCounter.Add(1)
}

// parseSalvageBlock parses one block starting at "<tool_call". It returns
// the parsed call, the offset just past "</tool_call>" (0 when the block
// never closes), and whether the block was complete enough to use.
func parseSalvageBlock(block string) (models.ToolCall, int, bool) {
	closeIdx := strings.Index(block, "</tool_call>")
	if closeIdx < 0 {
		return models.ToolCall{}, 0, false
	}
	end := closeIdx + len("</tool_call>")

	openEnd := strings.IndexByte(block, '>')
	if openEnd < 0 || openEnd > closeIdx {
		return models.ToolCall{}, end, false
	}
	openTag := block[:openEnd]
	body := block[openEnd+1 : closeIdx]

	if name, hasAttr := extractNameAttr(openTag); hasAttr {
		call, valid := parseAttributeForm(name, body)
		return call, end, valid
	}
	call, valid := parseKeyValueForm(body)
	return call, end, valid
}

// extractNameAttr pulls a name="..." attribute out of the opening tag.
func extractNameAttr(openTag string) (string, bool) {
	idx := strings.Index(openTag, "name=")
	if idx < 0 {
		return "", false
	}
	rest := openTag[idx+len("name="):]
	if rest == "" {
		return "", false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return "", false
	}
	closing := strings.IndexByte(rest[1:], quote)
	if closing < 0 {
		return "", false
	}
	name := strings.TrimSpace(rest[1 : 1+closing])
	return name, name != ""
}

// parseAttributeForm handles <tool_call name="X"><arguments>...</arguments>.
func parseAttributeForm(name, body string) (models.ToolCall, bool) {
	args := "{}"
	if open := strings.Index(body, "<arguments>"); open >= 0 {
		rest := body[open+len("<arguments>"):]
		if closing := strings.Index(rest, "</arguments>"); closing >= 0 {
			args = normalizeSalvagedArgs(rest[:closing])
		}
	}
	return models.ToolCall{Name: name, Arguments: args}, true
}

// parseKeyValueForm handles the arg_key/arg_value shape: the tool name is
// the bare text before the first tag, and arguments arrive as alternating
// <arg_key>/<arg_value> pairs. A key without a matching value is dropped.
func parseKeyValueForm(body string) (models.ToolCall, bool) {
	nameEnd := strings.Index(body, "<arg_key>")
	var name string
	if nameEnd < 0 {
		name = strings.TrimSpace(body)
	} else {
		name = strings.TrimSpace(body[:nameEnd])
	}
	if name == "" || strings.ContainsAny(name, "<>") {
		return models.ToolCall{}, false
	}

	args := make(map[string]any)
	rest := body
	for {
		key, after, ok := extractTagged(rest, "arg_key")
		if !ok {
			break
		}
		value, after2, ok := extractTagged(after, "arg_value")
		if !ok {
			break
		}
		if key = strings.TrimSpace(key); key != "" {
			args[key] = coerceArgValue(value)
		}
		rest = after2
	}

	payload := "{}"
	if len(args) > 0 {
		if encoded, err := json.Marshal(args); err == nil {
			payload = string(encoded)
		}
	}
	return models.ToolCall{Name: name, Arguments: payload}, true
}

// extractTagged returns the text inside the first <tag>...</tag> pair and
// the remainder after the closing tag.
func extractTagged(s, tag string) (string, string, bool) {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(s, open)
	if start < 0 {
		return "", "", false
	}
	rest := s[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return "", "", false
	}
	return rest[:end], rest[end+len(closing):], true
}

// coerceArgValue converts an arg_value payload to a typed JSON value when
// it parses as one (number, bool, object, array), and leaves it a string
// otherwise.
func coerceArgValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if gjson.Valid(trimmed) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}

// normalizeSalvagedArgs canonicalizes an <arguments> payload: valid JSON is
// re-serialized compactly, anything else is wrapped as {"raw": payload},
// and an empty payload becomes {}.
func normalizeSalvagedArgs(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}
	if gjson.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(trimmed)); err == nil {
			return buf.String()
		}
	}
	wrapped, err := json.Marshal(map[string]string{"raw": trimmed})
	if err != nil {
		return "{}"
	}
	return string(wrapped)
}
