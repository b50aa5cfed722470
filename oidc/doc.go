// Package oidc provides a pluggable authenticator for the OAuth2
// authorization code flow, for providers that optionally issue OpenID
// Connect id_tokens.
//
// An Authenticator is created from a ProviderConfig describing one provider.
// A host keeps an AttemptContext per user attempt and calls
// Authenticator.Process for every request of the flow; Process redirects the
// user to the provider, handles the provider's callback by exchanging the
// authorization code (TokenExchanger), fetching the userinfo document
// (UserInfoFetcher) and normalizing it into a ClaimSet, and handles logout.
//
// TestProvider is a local provider which can be used to test the flows.
package oidc
