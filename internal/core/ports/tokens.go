package ports

// TokenStore holds the caller's access and refresh tokens. It is a single
// process-wide slot: the API client is the only writer, other components
// may read.
type TokenStore interface {
	Token() string
	SetToken(token string)
	RefreshToken() string
	SetRefreshToken(token string)
	// Clear evicts both tokens.
	Clear()
	// ClearToken evicts only the access token.
	ClearToken()
}
