// Package settings holds the per-tenant authenticator settings maps. A
// deployment keeps them in one YAML or TOML file with a section per tenant:
//
//	tenants:
//	  acme:
//	    mideye.url: https://mideye.example.com:8443
//	    mideye.apiKey: secret
//	    mideye.timeoutSeconds: 90
//
// The store can watch that file and swap in new contents when it changes, so
// edits take effect on the next authentication attempt.
package settings
