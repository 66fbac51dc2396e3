package gateway

// ParseIdentity exposes parseIdentity to the external test package.
var ParseIdentity = parseIdentity
