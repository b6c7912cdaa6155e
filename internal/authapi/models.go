package authapi

import "bluepeak/internal/identity"

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type signupRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

// authResponse is the success shape shared by login and signup:
// the bearer token plus the profile object the portals persist.
type authResponse struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}
