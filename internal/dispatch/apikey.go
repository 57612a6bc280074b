package dispatch

// APIKeyContext is the contract an upstream auth middleware attaches to the
// request before DispatchPipeline runs (internal/httpapi's APIKeyMiddleware
// builds it); DispatchPipeline only ever reads this struct.
type APIKeyContext struct {
	ID                string
	Permissions       []string
	ModelRestrictions []string
}

// HasPermission reports whether the key carries "all" or the named
// permission.
func (k *APIKeyContext) HasPermission(name string) bool {
	if k == nil {
		return false
	}
	for _, p := range k.Permissions {
		if p == "all" || p == name {
			return true
		}
	}
	return false
}

// AllowsModel reports whether model is usable under this key's restriction
// list. An empty restriction list allows every model.
func (k *APIKeyContext) AllowsModel(model string) bool {
	if k == nil || len(k.ModelRestrictions) == 0 {
		return true
	}
	for _, m := range k.ModelRestrictions {
		if m == model {
			return true
		}
	}
	return false
}
