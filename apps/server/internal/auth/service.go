package auth

// Service is the auth/session contract consumed by gateway and HTTP handlers.
type Service interface {
	Register(username, password string) (userID uint64, sessionToken string, err error)
	Login(username, password string) (userID uint64, sessionToken string, err error)

	// Guest resolves token to its account when valid; otherwise it creates a
	// fresh guest account and session. reused reports whether the token was
	// accepted as-is.
	Guest(token string) (userID uint64, sessionToken string, reused bool)

	ResolveSession(token string) (userID uint64, username string, ok bool)
	Logout(token string)
	Close() error
}
