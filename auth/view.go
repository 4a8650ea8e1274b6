package auth

// Element IDs of the page the controller drives
const (
	ElementLogoutButton = "btn-logout"
	ElementAPIButton    = "btn-api"
	ElementLoginButton  = "btn-login"
	ElementGatedContent = "gated-content"
	ElementWelcome      = "welcome-content"
	ElementAccessToken  = "ipt-access-token"
	ElementUserProfile  = "ipt-user-profile"
)

// NotLoggedInMessage is the notification shown when an unauthenticated user calls the API
const NotLoggedInMessage = "You need to be logged in"

// View is the presentation port the controller writes page state to
type View interface {
	SetDisabled(id string, disabled bool)
	SetVisible(id string, visible bool)
	SetText(id, text string)

	// Alert shows a blocking notification
	Alert(message string)

	// Navigate sends the browser to another location (full-page redirect)
	Navigate(location string)

	// ReplaceURL rewrites the current location without a reload
	ReplaceURL(path string)
}
