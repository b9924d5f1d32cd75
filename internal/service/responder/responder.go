// Package responder synthesizes automated replies to service-request
// messages. Matching is exact-string on purpose: staff must be able to
// reason about exactly which guest utterances trigger an automated payload,
// so fuzzy or NLP matching is left to an external collaborator.
package responder

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hotel7days/concierge/backend/internal/model/chat"
)

// DefaultRules maps the service-request phrases the room tablet sends to the
// menu and price-list images delivered in reply.
func DefaultRules() map[string]string {
	return map[string]string{
		"[Yêu cầu hỗ trợ: 🍽️ Order Food]": "https://insacmauviet.vn/Uploads/682.gif",
		"[Yêu cầu hỗ trợ: 🧹 Cleaning]":    "https://hpmed.vn/Files/419/kinh-doanh-spa/Menu-spa-can-cung-cap-thong-tin-chinh-xac.jpg",
		"[Yêu cầu hỗ trợ: 🧺 Laundry]":     "https://incaominh.com/wp-content/uploads/2024/04/mau-bang-gia-dich-vu-de-ban.jpg",
	}
}

// Engine evaluates inbound guest messages against a trigger map.
type Engine struct {
	rules map[string]string
}

// New builds an engine over the given trigger map. A nil or empty map
// yields a disabled engine that never matches.
func New(rules map[string]string) *Engine {
	return &Engine{rules: rules}
}

type rulesFile struct {
	Rules []struct {
		Trigger  string `yaml:"trigger"`
		ImageURL string `yaml:"imageUrl"`
	} `yaml:"rules"`
}

// LoadRules reads the trigger map from a YAML file. An empty path returns
// the compiled-in defaults. Configuration errors degrade to the defaults
// with a logged warning, never a crash.
func LoadRules(path string) map[string]string {
	if path == "" {
		return DefaultRules()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[responder] cannot read rules file %s, using defaults: %v", path, err)
		return DefaultRules()
	}

	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		log.Printf("[responder] malformed rules file %s, using defaults: %v", path, err)
		return DefaultRules()
	}

	rules := make(map[string]string, len(parsed.Rules))
	for _, r := range parsed.Rules {
		if r.Trigger == "" || r.ImageURL == "" {
			// Incomplete entries are skipped, not fatal.
			log.Printf("[responder] skipping incomplete rule entry in %s", path)
			continue
		}
		rules[r.Trigger] = r.ImageURL
	}
	return rules
}

// Evaluate returns a synthetic BOT reply for a guest message that exactly
// matches a configured trigger phrase. It only acts on CLIENT messages in
// bot-enabled sessions; synthetic messages are never re-evaluated because
// they carry a non-CLIENT sender.
func (e *Engine) Evaluate(sess chat.Session, msg chat.Message) (chat.Message, bool) {
	if msg.Sender != chat.SenderClient || !sess.BotEnabled {
		return chat.Message{}, false
	}

	url, ok := e.rules[msg.OriginalText]
	if !ok {
		return chat.Message{}, false
	}

	return chat.Message{
		SessionID:    sess.ID,
		Sender:       chat.SenderBot,
		OriginalText: chat.ImageText(url),
	}, true
}
