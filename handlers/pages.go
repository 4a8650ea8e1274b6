package handlers

import (
	"context"
	"net/http"

	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/auth"
	"github.com/upb/auth-session/views"
	"go.uber.org/zap"
)

const (
	pageTitle = "Auth Session Demo"
	rootPath  = "/"
)

// PageHandler serves the page: a plain load, or the provider's redirect back
// carrying code and state
func PageHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		query := r.URL.Query()
		page := views.NewPage(pageTitle)

		err := deps.Controller.OnPageLoad(ctx, page, query)

		if query.Has("code") && query.Has("state") {
			if err == nil {
				// Tokens now hang off the session; the pre-login ID must not reach them
				r = deps.SessionMiddleware.Rotate(w, r)
				ctx = r.Context()
			}
			_ = deps.Audit.LogLoginCallback(requestInfo(r), currentSubject(ctx, deps.Controller), err)
		}

		if err != nil {
			HandleAuthError(w, err, deps.Logger)
			return
		}

		renderPage(w, page, deps.Logger)
	}
}

// LoginHandler starts the hosted login
func LoginHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := views.NewPage(pageTitle)
		origin := requestOrigin(r, deps.Config.Server.PublicOrigin)

		err := deps.Controller.Login(r.Context(), page, origin)
		_ = deps.Audit.LogLoginRedirect(requestInfo(r), err)
		if err != nil {
			HandleAuthError(w, err, deps.Logger)
			return
		}

		navigate(w, r, page)
	}
}

// LogoutHandler ends the session and redirects to the provider logout
func LogoutHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		page := views.NewPage(pageTitle)
		origin := requestOrigin(r, deps.Config.Server.PublicOrigin)
		subject := currentSubject(ctx, deps.Controller)

		if err := deps.Controller.Logout(ctx, page, origin); err != nil {
			HandleAuthError(w, err, deps.Logger)
			return
		}
		_ = deps.Audit.LogLogout(requestInfo(r), subject)

		navigate(w, r, page)
	}
}

// CallAPIHandler calls the protected API and renders the page with the result.
// The rendered page rewrites its URL to "/" so a reload does not repost.
func CallAPIHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		page := views.NewPage(pageTitle)

		status, err := deps.Controller.CallProtectedAPI(ctx, page)

		sess, ok := deps.Controller.Session()
		if ok && !alerted(page, auth.NotLoggedInMessage) {
			_ = deps.Audit.LogProtectedAPICall(requestInfo(r), currentSubject(ctx, deps.Controller), sess.Endpoint, status, err)
		}

		if err != nil {
			HandleAuthError(w, err, deps.Logger)
			return
		}

		if err := deps.Controller.RefreshUI(ctx, sess, page); err != nil {
			HandleAuthError(w, err, deps.Logger)
			return
		}

		page.ReplaceURL(rootPath)
		renderPage(w, page, deps.Logger)
	}
}

func renderPage(w http.ResponseWriter, page *views.Page, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := page.Render(w); err != nil {
		logger.Error("failed to render page", zap.Error(err))
	}
}

func navigate(w http.ResponseWriter, r *http.Request, page *views.Page) {
	location, ok := page.Location()
	if !ok {
		location = rootPath
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// currentSubject returns the logged-in subject, or "" when there is none
func currentSubject(ctx context.Context, controller *auth.Controller) string {
	sess, ok := controller.Session()
	if !ok {
		return ""
	}
	user, err := sess.Client.GetUser(ctx)
	if err != nil || user == nil {
		return ""
	}
	return user.Subject
}

func alerted(page *views.Page, message string) bool {
	for _, a := range page.Alerts() {
		if a == message {
			return true
		}
	}
	return false
}
