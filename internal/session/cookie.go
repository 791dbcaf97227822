package session

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/aussie-gateway/aussie/internal/config"
)

// sessionIDField is the single field name under which the codec stores the
// cookie's opaque session id, chosen so the cookie value never carries
// session state itself — only a tamper-evident reference to it.
const sessionIDField = "sid"

// CookieCodec signs (and optionally encrypts) the session-id cookie value
// via gorilla/sessions' CookieStore, so a forged or corrupted cookie fails
// to decode before a store lookup is ever attempted (spec.md §4.7).
type CookieCodec struct {
	cfg   config.CookieConfig
	store *sessions.CookieStore
}

// NewCookieCodec builds a codec from hashKey (required, HMAC signing) and
// blockKey (optional; when non-empty, enables AES encryption of the cookie
// value in addition to signing).
func NewCookieCodec(cfg config.CookieConfig, hashKey, blockKey []byte) *CookieCodec {
	var store *sessions.CookieStore
	if len(blockKey) > 0 {
		store = sessions.NewCookieStore(hashKey, blockKey)
	} else {
		store = sessions.NewCookieStore(hashKey)
	}
	store.Options = &sessions.Options{
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: sameSite(cfg.SameSite),
	}
	return &CookieCodec{cfg: cfg, store: store}
}

// Encode writes the Set-Cookie header for sessionID onto w, with Max-Age
// derived from the caller (the manager knows the session's expiresAt).
func (c *CookieCodec) Encode(r *http.Request, w http.ResponseWriter, sessionID string, maxAge int) error {
	sess, _ := c.store.New(r, c.cfg.Name)
	sess.Values[sessionIDField] = sessionID
	sess.Options.MaxAge = maxAge
	return sess.Save(r, w)
}

// ExpireCookie writes a Set-Cookie header that clears the session cookie
// (MaxAge<0), for use on logout/invalidation responses.
func (c *CookieCodec) ExpireCookie(r *http.Request, w http.ResponseWriter) error {
	sess, _ := c.store.New(r, c.cfg.Name)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// Decode implements authn.CookieDecoder: reads the cookie named per config
// from the request, verifies and decodes it via the CookieStore, and returns
// the referenced session id. A missing, forged, or expired-signature cookie
// yields ok=false (never an error) so the mechanism chain treats it as Skip,
// not Failed.
func (c *CookieCodec) Decode(r *http.Request) (string, bool) {
	raw, err := r.Cookie(c.cfg.Name)
	if err != nil || raw.Value == "" {
		return "", false
	}
	sess, err := c.store.Get(r, c.cfg.Name)
	if err != nil {
		return "", false
	}
	sid, ok := sess.Values[sessionIDField].(string)
	if !ok || sid == "" {
		return "", false
	}
	return sid, true
}

func sameSite(v string) http.SameSite {
	switch v {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
