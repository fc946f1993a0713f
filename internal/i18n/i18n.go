package i18n

import (
	"embed"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/amoylab/oauthd/internal/common/errorx"
)

// HeaderLang overrides Accept-Language when present
const HeaderLang = "X-Lang"

//go:embed translations/*.toml
var builtin embed.FS

// I18n translates error descriptions
type I18n struct {
	bundle  *i18n.Bundle
	matcher language.Matcher
	tags    []language.Tag
}

// New builds a translator with the embedded catalogues. dir, when set, adds
// or overrides messages from *.toml files found there.
func New(defaultLang, dir string) (*I18n, error) {
	def, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(def)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := builtin.ReadDir("translations")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, err := bundle.LoadMessageFileFS(builtin, path.Join("translations", e.Name())); err != nil {
			return nil, fmt.Errorf("failed to load builtin translation %s: %w", e.Name(), err)
		}
	}

	if dir != "" {
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read translations directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".toml") {
				continue
			}
			if _, err := bundle.LoadMessageFile(filepath.Join(dir, f.Name())); err != nil {
				return nil, fmt.Errorf("failed to load translation %s: %w", f.Name(), err)
			}
		}
	}

	tags := bundle.LanguageTags()
	return &I18n{
		bundle:  bundle,
		matcher: language.NewMatcher(tags),
		tags:    tags,
	}, nil
}

// Translate returns the message for msgID in lang, or msgID itself when no
// catalogue has it
func (i *I18n) Translate(msgID, lang string, data map[string]any) string {
	lc := &i18n.LocalizeConfig{MessageID: msgID}
	if len(data) > 0 {
		lc.TemplateData = data
	}
	// a default-language fallback comes back with an error but a usable message
	msg, _ := i18n.NewLocalizer(i.bundle, lang).Localize(lc)
	if msg == "" {
		return msgID
	}
	return msg
}

// Lang picks the best supported language for r
func (i *I18n) Lang(r *http.Request) string {
	var prefs []language.Tag
	if v := r.Header.Get(HeaderLang); v != "" {
		if t, err := language.Parse(v); err == nil {
			prefs = append(prefs, t)
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		if tags, _, err := language.ParseAcceptLanguage(v); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	_, idx, conf := i.matcher.Match(prefs...)
	if conf == language.No {
		idx = 0
	}
	return i.tags[idx].String()
}

// Describe returns a copy of err with a localized error_description. An
// explicit description is kept.
func (i *I18n) Describe(err *errorx.OAuth2Error, lang string, data map[string]any) *errorx.OAuth2Error {
	if err.ErrorDescription != "" {
		return err
	}
	msg := i.Translate(err.MessageID(), lang, data)
	if msg == err.MessageID() {
		return err
	}
	return err.WithDescription(msg)
}
