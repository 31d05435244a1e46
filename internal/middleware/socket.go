package middleware

import "net/http"

// Identity is the result of socket-upgrade authentication. Failures
// resolve to Anonymous instead of an error: rejection policy lives in
// each consumer, which closes the connection with its own code.
type Identity struct {
	UserID    int
	Fullname  string
	Anonymous bool
}

func AnonymousIdentity() Identity {
	return Identity{Anonymous: true}
}

// SocketIdentity authenticates a socket upgrade request. It never
// fails: a missing, malformed or expired token yields Anonymous.
func SocketIdentity(v TokenValidator, r *http.Request) Identity {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return AnonymousIdentity()
	}
	userID, fullname, err := v.ValidateToken(tokenString)
	if err != nil {
		return AnonymousIdentity()
	}
	return Identity{UserID: userID, Fullname: fullname}
}
