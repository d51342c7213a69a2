package upstream

import (
	"context"
	"fmt"
	"sync"
)

// Credential attaches authentication to outbound ServiceNow requests. The
// core treats credentials as externally rotatable opaque values — how a
// fresh credential is obtained (SAML, OAuth, Basic) is out of scope per
// spec §1; RefreshFunc is the seam the host application plugs into.
type Credential struct {
	mu          sync.RWMutex
	headerName  string
	headerValue string

	// RefreshFunc obtains a new header value on 401. It is supplied by the
	// host application; the core never constructs one itself. If nil,
	// Refresh returns an error and a 401 always surfaces as AuthExpired.
	RefreshFunc func(ctx context.Context) (string, error)
}

// NewBearerCredential creates a credential that sends "Authorization: Bearer <token>".
func NewBearerCredential(token string, refresh func(ctx context.Context) (string, error)) *Credential {
	return &Credential{
		headerName:  "Authorization",
		headerValue: "Bearer " + token,
		RefreshFunc: refresh,
	}
}

// NewBasicCredential creates a credential that sends a precomputed
// "Authorization: Basic <base64>" header value (the base64 encoding is the
// caller's responsibility — the core never decodes or inspects it).
func NewBasicCredential(basicValue string, refresh func(ctx context.Context) (string, error)) *Credential {
	return &Credential{
		headerName:  "Authorization",
		headerValue: basicValue,
		RefreshFunc: refresh,
	}
}

// Apply attaches the current credential header to req.
func (c *Credential) Apply(set func(name, value string)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set(c.headerName, c.headerValue)
}

// Refresh obtains a new credential value and swaps it in atomically. Called
// exactly once per request on a 401 (spec §4.1, §7 AuthExpired).
func (c *Credential) Refresh(ctx context.Context) error {
	if c.RefreshFunc == nil {
		return fmt.Errorf("credential refresh requested but no RefreshFunc configured")
	}
	newValue, err := c.RefreshFunc(ctx)
	if err != nil {
		return fmt.Errorf("refreshing credential: %w", err)
	}
	c.mu.Lock()
	c.headerValue = newValue
	c.mu.Unlock()
	return nil
}
