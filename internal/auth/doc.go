// Package auth authenticates human operators against the admin/control API.
//
// # Two Trust Models
//
// Agents never use this package — they authenticate in-band with C1
// Ed25519 signatures carried on every Message. This package exists
// entirely for the human-operator console, which sits outside the fabric's
// own trust model.
//
// # Bearer JWTs
//
// Every admin API route except the health checks and the passkey login
// endpoints requires a bearer JWT:
//
//	Authorization: Bearer <token>
//
// Tokens are HS256-signed with the configured secret (auth.jwt_secret) and
// carry the operator id in the "sub" claim. RequireBearerAuth verifies the
// token, resolves the operator, and attaches an AuthContext to the request.
//
// # Passkey Bootstrap
//
// A one-time operator account can authenticate with a WebAuthn passkey
// instead of an existing token, via Bootstrap. A successful passkey login
// issues the same JWT the bearer middleware accepts — passkeys are how an
// operator gets their first token, not a parallel auth path.
//
//	bootstrap, err := auth.NewBootstrap(st, tokens, "Agent Fabric", "fabric.local", "https://fabric.local")
//	op, err := bootstrap.EnsureOperator(ctx, "alice", "Alice")
//	// serve bootstrap.RegisterBeginHandler()/RegisterFinishHandler() behind RequireBearerAuth,
//	// and bootstrap.LoginBeginHandler()/LoginFinishHandler() unauthenticated.
package auth
