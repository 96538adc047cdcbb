package llm

// Credentials maps provider names to API keys. Credentials are supplied per
// request or from process configuration and are never persisted.
type Credentials map[string]string

// Key returns the key for a provider, or "".
func (c Credentials) Key(provider string) string {
	return c[provider]
}

// Any reports whether at least one provider has a key.
func (c Credentials) Any() bool {
	for _, v := range c {
		if v != "" {
			return true
		}
	}
	return false
}

// Merge returns a copy of c overlaid with the non-empty entries of over.
func (c Credentials) Merge(over Credentials) Credentials {
	out := make(Credentials, len(c)+len(over))
	for k, v := range c {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range over {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Uniform returns credentials that use the same key for every named provider.
// An empty key yields empty credentials.
func Uniform(key string, providers ...string) Credentials {
	out := make(Credentials, len(providers))
	if key == "" {
		return out
	}
	for _, p := range providers {
		out[p] = key
	}
	return out
}
