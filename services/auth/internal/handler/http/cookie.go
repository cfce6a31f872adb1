package http

import (
	"net/http"
	"time"
)

// Refresh cookie attributes.
const (
	RefreshCookieName = "refreshToken"
	RefreshCookiePath = "/api/auth"
)

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) base() *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Path:     RefreshCookiePath,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) set(w http.ResponseWriter, token string) {
	cookie := c.base()
	cookie.Value = token
	cookie.MaxAge = int(c.MaxAge / time.Second)
	cookie.Expires = time.Now().Add(c.MaxAge)
	http.SetCookie(w, cookie)
}

// clear expires the cookie with the same attributes it was set with, so the
// browser matches and drops it.
func (c CookieConfig) clear(w http.ResponseWriter) {
	cookie := c.base()
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func refreshTokenFrom(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
