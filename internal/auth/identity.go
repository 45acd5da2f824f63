package auth

// Identity is the authenticated requester resolved for a request. Handlers
// carry a nil *Identity for anonymous requests.
type Identity struct {
	ID    string
	Email string
}
