package formatter

import (
	"strings"
	"time"
)

// Channel kinds understood by Format
const (
	KindTelegram = "telegram"
	KindDiscord  = "discord"
	KindEmail    = "email"
)

const (
	embedTitle  = "📊 TradingView Alert"
	embedColor  = 0x00ff00
	embedFooter = "TradingView Alerts Bot"
	timeLayout  = "2006-01-02 15:04:05 MST"
)

// Message is a rendered alert for one channel
type Message struct {
	Text    string
	Subject string
	Embed   *Embed
}

// Embed is a Discord rich embed
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField is one name/value pair of an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small text under an embed
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// Formatter renders payloads in a fixed location
type Formatter struct {
	loc *time.Location
}

// New creates a formatter rendering timestamps in loc (UTC when nil)
func New(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{loc: loc}
}

// Format renders p for the given channel kind. at is the alert's trigger time.
func (f *Formatter) Format(p Payload, kind string, at time.Time) Message {
	switch kind {
	case KindDiscord:
		return Message{Text: "", Embed: f.embed(p, at)}
	case KindEmail:
		return Message{Text: f.text(p, at), Subject: subject(p)}
	default:
		return Message{Text: f.text(p, at)}
	}
}

// Plain wraps fixed text (such as a test notice) for the given channel kind
func (f *Formatter) Plain(text, kind string, at time.Time) Message {
	return f.Format(Payload{Plain: text, IsPlain: true}, kind, at)
}

func (f *Formatter) text(p Payload, at time.Time) string {
	if p.IsPlain {
		return p.Plain
	}

	var b strings.Builder
	b.WriteString("🔔 Trading Alert\n\n")
	for _, fl := range lines(p) {
		b.WriteString(fl.Name)
		b.WriteString(": ")
		b.WriteString(fl.Value)
		b.WriteString("\n")
	}
	if p.Message != "" {
		b.WriteString("\n📝 Message:\n")
		b.WriteString(p.Message)
		b.WriteString("\n")
	}
	b.WriteString("\n⏰ Triggered at: ")
	b.WriteString(at.In(f.loc).Format(timeLayout))
	return b.String()
}

func (f *Formatter) embed(p Payload, at time.Time) *Embed {
	e := &Embed{
		Title:     embedTitle,
		Color:     embedColor,
		Timestamp: at.UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: embedFooter},
	}
	if p.IsPlain {
		e.Description = p.Plain
		return e
	}
	e.Description = p.Message
	for _, fl := range lines(p) {
		fl.Inline = true
		e.Fields = append(e.Fields, fl)
	}
	return e
}

func lines(p Payload) []EmbedField {
	var out []EmbedField
	add := func(name, value string) {
		if value != "" {
			out = append(out, EmbedField{Name: name, Value: value})
		}
	}
	add("Symbol", p.Symbol)
	add("Exchange", p.Exchange)
	add("Price", p.Price)
	add("Strategy", p.Strategy)
	add("Interval", p.Interval)
	return out
}

func subject(p Payload) string {
	if p.Symbol != "" {
		return "TradingView Alert: " + p.Symbol
	}
	return "TradingView Alert"
}
