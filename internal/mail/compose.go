// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package mail

import (
	"net/url"
	"strings"
	"text/template"

	"github.com/samber/oops"
)

// Paths the links point at, relative to the public base URL.
const (
	VerifyEmailPath   = "/auth/verify-email"
	ConfirmEmailPath  = "/auth/confirm-email"
	ResetPasswordPath = "/reset-password"
)

type copyText struct {
	subject string
	body    string
}

// catalog holds subject and body per kind and locale. Missing locales fall
// back to English.
var catalog = map[Kind]map[string]copyText{
	KindEmailVerification: {
		"en":      {"Confirm your email address", "Hello {{.Name}},\n\nConfirm your email address by opening:\n{{.Link}}\n\nThe link is valid for {{.Validity}}.\n"},
		"ru":      {"Подтвердите адрес электронной почты", "Здравствуйте, {{.Name}}!\n\nПодтвердите адрес, перейдя по ссылке:\n{{.Link}}\n\nСсылка действительна {{.Validity}}.\n"},
		"sr-Latn": {"Potvrdite adresu e-pošte", "Zdravo {{.Name}},\n\nPotvrdite adresu otvaranjem veze:\n{{.Link}}\n\nVeza važi {{.Validity}}.\n"},
		"sr-Cyrl": {"Потврдите адресу е-поште", "Здраво {{.Name}},\n\nПотврдите адресу отварањем везе:\n{{.Link}}\n\nВеза важи {{.Validity}}.\n"},
	},
	KindPasswordReset: {
		"en":      {"Reset your password", "Hello {{.Name}},\n\nSet a new password here:\n{{.Link}}\n\nIf you did not ask for this, ignore this message. The link is valid for {{.Validity}}.\n"},
		"ru":      {"Сброс пароля", "Здравствуйте, {{.Name}}!\n\nЗадайте новый пароль по ссылке:\n{{.Link}}\n\nЕсли вы не запрашивали сброс, проигнорируйте письмо. Ссылка действительна {{.Validity}}.\n"},
		"sr-Latn": {"Promena lozinke", "Zdravo {{.Name}},\n\nNovu lozinku postavite ovde:\n{{.Link}}\n\nAko niste tražili promenu, zanemarite poruku. Veza važi {{.Validity}}.\n"},
		"sr-Cyrl": {"Промена лозинке", "Здраво {{.Name}},\n\nНову лозинку поставите овде:\n{{.Link}}\n\nАко нисте тражили промену, занемарите поруку. Веза важи {{.Validity}}.\n"},
	},
	KindEmailChange: {
		"en":      {"Confirm your new email address", "Hello {{.Name}},\n\nConfirm that {{.To}} should become your sign-in address:\n{{.Link}}\n\nThe link is valid for {{.Validity}}.\n"},
		"ru":      {"Подтвердите новый адрес", "Здравствуйте, {{.Name}}!\n\nПодтвердите, что {{.To}} станет вашим адресом для входа:\n{{.Link}}\n\nСсылка действительна {{.Validity}}.\n"},
		"sr-Latn": {"Potvrdite novu adresu", "Zdravo {{.Name}},\n\nPotvrdite da {{.To}} postaje vaša adresa za prijavu:\n{{.Link}}\n\nVeza važi {{.Validity}}.\n"},
		"sr-Cyrl": {"Потврдите нову адресу", "Здраво {{.Name}},\n\nПотврдите да {{.To}} постаје ваша адреса за пријаву:\n{{.Link}}\n\nВеза важи {{.Validity}}.\n"},
	},
}

var paths = map[Kind]string{
	KindEmailVerification: VerifyEmailPath,
	KindPasswordReset:     ResetPasswordPath,
	KindEmailChange:       ConfirmEmailPath,
}

// Composer renders messages with links under a public base URL.
type Composer struct {
	base      *url.URL
	templates map[Kind]map[string]*template.Template
}

// NewComposer parses baseURL and the message templates.
func NewComposer(baseURL string) (*Composer, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("MAIL_INVALID_BASE_URL").With("base_url", baseURL).Errorf("base URL must be absolute")
	}

	c := &Composer{base: base, templates: make(map[Kind]map[string]*template.Template)}
	for kind, byLocale := range catalog {
		c.templates[kind] = make(map[string]*template.Template, len(byLocale))
		for locale, text := range byLocale {
			tmpl, err := template.New(string(kind) + "/" + locale).Parse(text.body)
			if err != nil {
				return nil, oops.With("kind", kind).With("locale", locale).Wrap(err)
			}
			c.templates[kind][locale] = tmpl
		}
	}
	return c, nil
}

// Params are the per-message values.
type Params struct {
	To       string
	Name     string
	Locale   string
	Token    string
	Validity string
}

// Compose builds the message of kind for p.
func (c *Composer) Compose(kind Kind, p Params) (Message, error) {
	byLocale, ok := c.templates[kind]
	if !ok {
		return Message{}, oops.Code("MAIL_UNKNOWN_KIND").With("kind", kind).Errorf("unknown message kind")
	}
	locale := p.Locale
	if _, ok := byLocale[locale]; !ok {
		locale = "en"
	}

	link := c.Link(kind, p.Token)
	name := p.Name
	if name == "" {
		name = p.To
	}

	var body strings.Builder
	err := byLocale[locale].Execute(&body, struct {
		Name, To, Link, Validity string
	}{name, p.To, link, p.Validity})
	if err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("kind", kind).Wrap(err)
	}

	return Message{
		Kind:    kind,
		To:      p.To,
		Locale:  locale,
		Subject: catalog[kind][locale].subject,
		Body:    body.String(),
		Link:    link,
	}, nil
}

// Link returns the absolute URL carrying token for kind.
func (c *Composer) Link(kind Kind, token string) string {
	u := c.base.JoinPath(paths[kind])
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}
