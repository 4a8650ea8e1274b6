// Package views renders the single-page UI the auth controller drives.
package views

import (
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Page is a server-side stand-in for the browser document. The controller
// mutates it through the auth.View methods and the handler renders it.
type Page struct {
	Title string

	disabled map[string]bool
	visible  map[string]bool
	text     map[string]string
	alerts   []string

	location   string
	replaceURL string
}

// NewPage returns a page in its pre-authentication state
func NewPage(title string) *Page {
	return &Page{
		Title:    title,
		disabled: map[string]bool{},
		visible:  map[string]bool{},
		text:     map[string]string{},
	}
}

// SetDisabled sets the disabled flag of a button
func (p *Page) SetDisabled(id string, disabled bool) {
	p.disabled[id] = disabled
}

// SetVisible shows or hides a region
func (p *Page) SetVisible(id string, visible bool) {
	p.visible[id] = visible
}

// SetText sets the text content of an element
func (p *Page) SetText(id, text string) {
	p.text[id] = text
}

// Alert queues a blocking notification, shown when the page renders
func (p *Page) Alert(message string) {
	p.alerts = append(p.alerts, message)
}

// Navigate records a full-page redirect
func (p *Page) Navigate(location string) {
	p.location = location
}

// ReplaceURL records a history rewrite, applied by the rendered page
func (p *Page) ReplaceURL(path string) {
	p.replaceURL = path
}

// Location returns the pending redirect, if any
func (p *Page) Location() (string, bool) {
	return p.location, p.location != ""
}

// Disabled reports the disabled flag of a button
func (p *Page) Disabled(id string) bool {
	return p.disabled[id]
}

// Hidden reports whether a region is hidden
func (p *Page) Hidden(id string) bool {
	return !p.visible[id]
}

// Text returns the text content of an element
func (p *Page) Text(id string) string {
	return p.text[id]
}

// Alerts returns the queued notifications
func (p *Page) Alerts() []string {
	return p.alerts
}

// ReplacedURL returns the history rewrite target, if any
func (p *Page) ReplacedURL() string {
	return p.replaceURL
}

// Render writes the page as HTML
func (p *Page) Render(w io.Writer) error {
	return pageTemplate.Execute(w, p)
}
