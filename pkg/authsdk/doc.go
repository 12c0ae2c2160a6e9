// Package authsdk provides a Go client for the Perch authentication service,
// along with the wire types shared between the server handlers and the
// client. The SessionStore type maintains a reactive view of the current
// session: it keeps the token cookies fresh in the background, retries a
// request once after a silent 401, and notifies subscribers when the session
// state changes.
package authsdk
