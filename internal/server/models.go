package server

// AuthSignupRequest is the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest is the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries the issued JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// CreateSessionRequest starts an agent run.
type CreateSessionRequest struct {
	Goal string `json:"goal"`
}

// IDResponse acknowledges an accepted async operation.
type IDResponse struct {
	ID string `json:"id"`
}
