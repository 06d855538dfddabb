// Package formatter turns raw TradingView webhook bodies into per-channel messages.
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is a decoded alert body. Either Plain is set (the body was a bare string
// or not JSON at all) or the named fields carry whatever the object contained.
type Payload struct {
	Plain    string
	IsPlain  bool
	Symbol   string
	Exchange string
	Price    string
	Message  string
	Strategy string
	Interval string
	Test     bool
	Extra    map[string]interface{}
}

var knownFields = map[string]struct{}{
	"symbol": {}, "exchange": {}, "price": {}, "message": {},
	"text": {}, "strategy": {}, "interval": {}, "test": {},
}

// Parse decodes a webhook body. It never fails: anything that is not a JSON
// object or JSON string is treated as plain text.
func Parse(raw []byte) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Payload{}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return Payload{Plain: string(raw), IsPlain: true}
	}

	switch val := v.(type) {
	case string:
		return Payload{Plain: val, IsPlain: true}
	case map[string]interface{}:
		return fromObject(val)
	case nil:
		return Payload{}
	default:
		return Payload{Plain: string(trimmed), IsPlain: true}
	}
}

func fromObject(obj map[string]interface{}) Payload {
	p := Payload{
		Symbol:   field(obj, "symbol"),
		Exchange: field(obj, "exchange"),
		Price:    field(obj, "price"),
		Message:  field(obj, "message"),
		Strategy: field(obj, "strategy"),
		Interval: field(obj, "interval"),
		Test:     truthy(obj["test"]),
	}
	if p.Message == "" {
		p.Message = field(obj, "text")
	}
	for k, v := range obj {
		if _, ok := knownFields[k]; ok || v == nil {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]interface{})
		}
		p.Extra[k] = v
	}
	return p
}

// field renders a scalar field as text. Missing, null and structured values yield "".
func field(obj map[string]interface{}, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// Empty reports whether the payload carries nothing to render
func (p Payload) Empty() bool {
	if p.IsPlain {
		return strings.TrimSpace(p.Plain) == ""
	}
	return p.Symbol == "" && p.Exchange == "" && p.Price == "" && p.Message == "" &&
		p.Strategy == "" && p.Interval == ""
}

// Summary is the short text stored on the alert record
func (p Payload) Summary() string {
	if p.IsPlain {
		return p.Plain
	}
	return p.Message
}

// Record returns the payload as a JSON document suitable for storage
func (p Payload) Record() []byte {
	doc := make(map[string]interface{}, len(p.Extra)+6)
	if p.IsPlain {
		doc["text"] = p.Plain
	}
	for k, v := range p.Extra {
		doc[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			doc[k] = v
		}
	}
	set("symbol", p.Symbol)
	set("exchange", p.Exchange)
	set("price", p.Price)
	set("message", p.Message)
	set("strategy", p.Strategy)
	set("interval", p.Interval)

	data, err := json.Marshal(doc)
	if err != nil {
		return []byte(fmt.Sprintf("{%q:%q}", "error", err.Error()))
	}
	return data
}
